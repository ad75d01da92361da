package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/grimoire/internal/app"
	"github.com/roach88/grimoire/internal/integrity"
	"github.com/roach88/grimoire/internal/job"
	"github.com/roach88/grimoire/internal/reconcile"
	"github.com/roach88/grimoire/internal/restore"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store().Ping(r.Context()); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBackup streams a fresh archive. The manifest travels in headers.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	m, err := s.app.Backup(r.Context(), &buf)
	s.metrics.job(job.KindBackup, err)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="grimoire-%s.zip"`, m.CreatedAt.UTC().Format("20060102T150405Z")))
	w.Header().Set("X-Grimoire-Digest", m.Digest)
	w.Header().Set("X-Grimoire-Documents", strconv.Itoa(m.Documents))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleRestore applies the archive in the request body.
//
// Query: mode=full|partial, collections=a,b, normalize=true.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := restore.ParseMode(q.Get("mode"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	normalize, err := boolParam(q, "normalize")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := s.app.Config().Archive.MaxMemberSize
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	res, err := s.app.Restore(r.Context(), "request body", data, app.RestoreRequest{
		Mode:        mode,
		Collections: listParam(q, "collections"),
		Normalize:   normalize,
	})
	s.metrics.job(job.KindRestore, err)
	respondResult(w, res, err)
}

// handleScan runs the integrity scan. Query: apply, orphans,
// allow_empty_codex.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apply, err := boolParam(q, "apply")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	allowEmpty, err := boolParam(q, "allow_empty_codex")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	policyName := q.Get("orphans")
	if policyName == "" {
		policyName = s.app.Config().Integrity.Orphans
	}
	policy, err := integrity.ParseOrphanPolicy(policyName)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.app.Scan(r.Context(), integrity.ScanRequest{
		Apply:           apply,
		Orphans:         policy,
		AllowEmptyCodex: allowEmpty || s.app.Config().Integrity.AllowEmptyCodex,
	})
	s.metrics.job(job.KindScan, err)
	if report != nil {
		s.metrics.scan(report)
	}
	respondResult(w, report, err)
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := boolParam(q, "skip_content")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.app.Duplicates(r.Context(), integrity.DuplicateRequest{
		Collection:  q.Get("collection"),
		Tolerate:    listParam(q, "tolerate"),
		SkipContent: skip,
	})
	s.metrics.job(job.KindDuplicates, err)
	respondResult(w, report, err)
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	results, err := s.app.Normalize(r.Context(), r.URL.Query().Get("plan"))
	s.metrics.job(job.KindNormalize, err)
	respondResult(w, &results, err)
}

// handleReconcile fills {collection} from the generator. Query: kind,
// prefix, max_iterations, batch_size.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := reconcile.Request{
		Collection: mux.Vars(r)["collection"],
		Kind:       q.Get("kind"),
		Prefix:     q.Get("prefix"),
	}
	var err error
	if req.MaxIterations, err = intParam(q, "max_iterations"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BatchSize, err = intParam(q, "batch_size"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.app.Reconcile(r.Context(), req)
	s.metrics.job(job.KindReconcile, err)
	respondResult(w, res, err)
}

// handleRepairLinks repairs one link field. Query: field (required),
// group_size, pause, max_calls.
func (s *Server) handleRepairLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := reconcile.RepairRequest{Field: q.Get("field")}
	if req.Field == "" {
		respondError(w, http.StatusBadRequest, "field is required")
		return
	}
	var err error
	if req.GroupSize, err = intParam(q, "group_size"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxCalls, err = intParam(q, "max_calls"); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("pause"); v != "" {
		if req.Pause, err = time.ParseDuration(v); err != nil {
			respondError(w, http.StatusBadRequest, "pause: "+err.Error())
			return
		}
	}

	report, err := s.app.RepairLinks(r.Context(), req)
	s.metrics.job(job.KindRepairLinks, err)
	respondResult(w, report, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.app.Status(r.Context())
	respondResult(w, &runs, err)
}

func boolParam(q map[string][]string, name string) (bool, error) {
	v := first(q, name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", name, v)
	}
	return b, nil
}

func intParam(q map[string][]string, name string) (int, error) {
	v := first(q, name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", name, v)
	}
	return n, nil
}

// listParam accepts both repeated parameters and comma separated values.
func listParam(q map[string][]string, name string) []string {
	var out []string
	for _, v := range q[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func first(q map[string][]string, name string) string {
	if vs := q[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
