package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/config"
	"github.com/roach88/grimoire/internal/doc"
	"github.com/roach88/grimoire/internal/generator"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/reconcile"
	"github.com/roach88/grimoire/internal/restore"
	"github.com/roach88/grimoire/internal/store"
	"github.com/roach88/grimoire/internal/store/memstore"
	"github.com/roach88/grimoire/internal/testutil"
)

// Harness executes one scenario.
type Harness struct {
	store   *memstore.Store
	app     *app.App
	archive []byte
}

// Run executes a scenario against a fresh in-memory store and returns the
// result. The error is non-nil only when the scenario itself cannot run;
// failed expectations are recorded in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	st := memstore.New()
	if err := seed(st, scenario.Seed); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	cfg := config.Default()
	cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter = "1ms", "1ms", 0
	opts := []app.Option{
		app.WithIDs(job.NewFixedGenerator("run-1")),
		app.WithClock(testutil.NewFrozenClock(testutil.Epoch).Now),
		app.WithPause(func(context.Context, time.Duration) error { return nil }),
	}
	if g := scenario.Generator; g != nil {
		batches := make([][]generator.Item, 0, len(g.Batches))
		for _, b := range g.Batches {
			batches = append(batches, testutil.Items(b...))
		}
		gen := testutil.NewFakeGenerator(batches...).WithItems(testutil.Items(g.Items...)...)
		opts = append(opts, app.WithGenerator(gen))
	}

	h := &Harness{store: st, app: app.New(cfg, st, opts...)}
	result := NewResult()
	for i, step := range scenario.Flow {
		res, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}
		result.Steps = append(result.Steps, res)
		for _, msg := range checkExpect(res, step.Expect) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
	}

	state, err := Snapshot(ctx, st)
	if err != nil {
		return nil, err
	}
	result.State = state
	for _, msg := range EvaluateAssertions(result.State, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func seed(st *memstore.Store, collections map[string][]map[string]any) error {
	for name, raw := range collections {
		docs := make([]doc.Document, 0, len(raw))
		for i, m := range raw {
			v, err := doc.FromAny(m)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			d, err := doc.FromObject(v.(doc.Object), doc.FieldID)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
			docs = append(docs, d)
		}
		st.Seed(name, docs...)
	}
	return nil
}

// execute runs one step. Operation errors are recorded in the StepResult;
// the returned error means the step could not be attempted.
func (h *Harness) execute(ctx context.Context, step FlowStep) (StepResult, error) {
	args := step.Args
	var (
		report any
		err    error
	)
	switch step.Op {
	case OpBackup:
		var buf bytes.Buffer
		m, berr := h.app.Backup(ctx, &buf)
		if berr == nil {
			h.archive = buf.Bytes()
		}
		report, err = m, berr
	case OpRestore:
		data := h.archive
		if inline := argString(args, "archive"); inline != "" {
			data = []byte(inline)
		}
		if data == nil {
			return StepResult{}, errors.New("no archive: run backup first or pass archive")
		}
		mode, perr := restore.ParseMode(argString(args, "mode"))
		if perr != nil {
			report, err = nil, perr
			break
		}
		report, err = h.app.Restore(ctx, "scenario", data, app.RestoreRequest{
			Mode:        mode,
			Collections: argStrings(args, "collections"),
			Normalize:   argBool(args, "normalize"),
		})
	case OpScan:
		report, err = h.app.Scan(ctx, integrity.ScanRequest{
			Apply:           argBool(args, "apply"),
			Orphans:         integrity.OrphanPolicy(argString(args, "orphans")),
			AllowEmptyCodex: argBool(args, "allow_empty_codex"),
		})
	case OpDuplicates:
		report, err = h.app.Duplicates(ctx, integrity.DuplicateRequest{
			Collection:  argString(args, "collection"),
			Tolerate:    argStrings(args, "tolerate"),
			SkipContent: argBool(args, "skip_content"),
		})
	case OpNormalize:
		report, err = h.app.Normalize(ctx, argString(args, "plan"))
	case OpReconcile:
		report, err = h.app.Reconcile(ctx, reconcile.Request{
			Collection:    argString(args, "collection"),
			Kind:          argString(args, "kind"),
			Prefix:        argString(args, "prefix"),
			MaxIterations: argInt(args, "max_iterations"),
			BatchSize:     argInt(args, "batch_size"),
		})
	case OpRepairLinks:
		report, err = h.app.RepairLinks(ctx, reconcile.RepairRequest{
			Field:     argString(args, "field"),
			GroupSize: argInt(args, "group_size"),
			MaxCalls:  argInt(args, "max_calls"),
		})
	case OpStatus:
		report, err = h.app.Status(ctx)
	default:
		return StepResult{}, fmt.Errorf("unknown op %q", step.Op)
	}

	res := StepResult{Op: step.Op, Error: className(app.Classify(err))}
	if err != nil {
		res.Message = err.Error()
	}
	generic, jerr := toGeneric(report)
	if jerr != nil {
		return StepResult{}, jerr
	}
	res.Result = generic
	return res, nil
}

func className(c app.Class) string {
	switch c {
	case app.ClassNone:
		return ""
	case app.ClassBadRequest:
		return "bad_request"
	case app.ClassNotFound:
		return "not_found"
	case app.ClassUnavailable:
		return "unavailable"
	default:
		return "failure"
	}
}

// toGeneric round-trips v through JSON so reports and YAML expectations
// compare as the same plain types.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return out, nil
}

// Snapshot returns every non-system collection of st with documents sorted
// by identity.
func Snapshot(ctx context.Context, st store.Store) (map[string][]doc.Object, error) {
	names, err := st.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	out := make(map[string][]doc.Object, len(names))
	for _, name := range names {
		if store.IsSystem(name) {
			continue
		}
		docs, err := st.Find(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		slices.SortFunc(docs, func(a, b doc.Document) int {
			return strings.Compare(a.ID.String(), b.ID.String())
		})
		objs := make([]doc.Object, len(docs))
		for i, d := range docs {
			objs[i] = d.Embed(doc.FieldID)
		}
		out[name] = objs
	}
	return out, nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// argStrings accepts a YAML list or a comma separated string.
func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}
