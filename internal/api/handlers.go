package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"mailvetter/internal/batch"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleValidateOne runs a single address through the engine synchronously.
// GET /validate?email=user@example.com
func (s *Server) handleValidateOne(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "missing 'email' parameter", http.StatusBadRequest)
		return
	}
	result := s.Engine.Validate(r.Context(), email)
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Emails []string `json:"emails"`
}

// handleValidateBatch runs a small list of addresses synchronously and
// returns every result in one response. Large lists belong on
// /validate/bulk instead.
func (s *Server) handleValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Emails) == 0 {
		http.Error(w, "'emails' must be a non-empty array", http.StatusBadRequest)
		return
	}

	results := s.Scheduler.ValidateMany(r.Context(), req.Emails)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

const maxBulkUploadBytes = 10 << 20 // 10MiB, matching the teacher's upload cap

// handleValidateBulk accepts a multipart CSV upload (one address per row,
// optional "email" header), creates a job, and processes it asynchronously
// in the background. The client polls /jobs/{id}/status and later fetches
// /jobs/{id}/results.
func (s *Server) handleValidateBulk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBulkUploadBytes); err != nil {
		http.Error(w, "file too large or malformed", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	emails, err := readEmailColumn(file)
	if err != nil {
		http.Error(w, "invalid CSV: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(emails) == 0 {
		http.Error(w, "CSV contained no addresses", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	ctx := context.Background()

	if err := s.Store.CreateJob(ctx, jobID, len(emails)); err != nil {
		log.Printf("❌ failed to create job %s: %v", jobID, err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	if err := s.Tracker.Start(ctx, jobID, len(emails)); err != nil {
		log.Printf("⚠️  job tracker unavailable for %s: %v", jobID, err)
	}

	go s.runBulkJob(jobID, emails)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"total":  len(emails),
	})
}

// runBulkJob drives the scheduler in streamed mode, persisting each batch
// as it completes rather than only once the whole job has finished.
func (s *Server) runBulkJob(jobID string, emails []string) {
	ctx := context.Background()

	s.Scheduler.ValidateStream(ctx, emails, func(ev batch.ProgressEvent) {
		// Only EventProgress carries results that haven't been persisted
		// yet — EventComplete's Results is the full, already-reported set
		// and must never be appended again.
		if ev.Type == batch.EventProgress && len(ev.Results) > 0 {
			if err := s.Store.AppendResults(ctx, jobID, ev.Results); err != nil {
				log.Printf("❌ job %s: failed to persist batch: %v", jobID, err)
			}
			if err := s.Tracker.Advance(ctx, jobID, len(ev.Results)); err != nil {
				log.Printf("⚠️  job %s: tracker advance failed: %v", jobID, err)
			}
		}
		if ev.Type == batch.EventComplete {
			if err := s.Store.CompleteJob(ctx, jobID); err != nil {
				log.Printf("❌ job %s: failed to mark complete: %v", jobID, err)
			}
			if err := s.Tracker.Finish(ctx, jobID); err != nil {
				log.Printf("⚠️  job %s: tracker finish failed: %v", jobID, err)
			}
		}
	})
}

// readEmailColumn reads the first column of a CSV, skipping the first row
// when its first cell is exactly "email", "Email", "Email Address" or
// "address". Any other header cell is read as an address.
func readEmailColumn(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var emails []string
	firstRow := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 || record[0] == "" {
			continue
		}
		if firstRow {
			firstRow = false
			switch record[0] {
			case "email", "Email", "Email Address", "address":
				continue
			}
		}
		emails = append(emails, record[0])
	}
	return emails, nil
}

// handleJobStatus reports live progress, preferring the fast Redis tracker
// and falling back to Postgres if the tracker key has expired.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if snap, err := s.Tracker.Snapshot(r.Context(), jobID); err == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":        jobID,
			"status":    snap.Status,
			"total":     snap.Total,
			"processed": snap.Processed,
		})
		return
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("⚠️  job %s: tracker snapshot error: %v", jobID, err)
	}

	status, err := s.Store.Status(r.Context(), jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	results, err := s.Store.Results(r.Context(), jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "results": results})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ error encoding response: %v", err)
	}
}
