package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/netresearch/ipa-admin-portal/internal/bulk"
	"github.com/netresearch/ipa-admin-portal/internal/excel"
)

// maxTextBody caps pasted identifier lists.
const maxTextBody = 1 << 20

func (s *Server) bulkOptions(r *http.Request) []bulk.Option {
	opts := []bulk.Option{
		bulk.WithLogger(s.logger),
		bulk.WithOperator(operatorOf(r)),
		bulk.WithLinkGenerator(s.deps.Links),
	}
	if s.deps.Metrics != nil {
		opts = append(opts, bulk.WithObserver(s.deps.Metrics))
	}
	return opts
}

// handleBulkOperation applies op to a JSON array of user names or e-mail
// addresses.
func (s *Server) handleBulkOperation(op bulk.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var identifiers []string
		if err := json.NewDecoder(r.Body).Decode(&identifiers); err != nil {
			badRequest(w, "expected a JSON array of identifiers: "+err.Error())
			return
		}

		operator := bulk.NewOperator(directoryOf(r), s.bulkOptions(r)...)
		report := operator.Apply(context.WithoutCancel(r.Context()), op, identifiers)
		writeJSON(w, http.StatusOK, report)
	}
}

// handleTextToJSON splits pasted text on whitespace into an identifier list.
// The text is taken from the users_text query or form field, or else the raw
// body.
func (s *Server) handleTextToJSON(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("users_text")
	if text == "" {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/x-www-form-urlencoded", "multipart/form-data":
			text = r.PostFormValue("users_text")
		default:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxTextBody))
			if err != nil {
				badRequest(w, "could not read body: "+err.Error())
				return
			}
			text = string(body)
		}
	}

	identifiers := strings.Fields(text)
	if identifiers == nil {
		identifiers = []string{}
	}
	writeJSON(w, http.StatusOK, identifiers)
}

// readUpload parses the "file" field of a multipart upload as an import
// spreadsheet. It writes the error response itself and returns ok=false on
// failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (rows []bulk.ImportRow, total int, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return nil, 0, false
		}
		badRequest(w, "a spreadsheet is required in the \"file\" field")
		return nil, 0, false
	}
	defer func() { _ = file.Close() }()

	rows, total, err = excel.ParseRows(file)
	if err != nil {
		badRequest(w, err.Error())
		return nil, 0, false
	}
	return rows, total, true
}

// handleValidateExcel runs every check against the upload without changing
// the directory.
func (s *Server) handleValidateExcel(w http.ResponseWriter, r *http.Request) {
	rows, total, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	importer := bulk.NewImporter(directoryOf(r), bulk.WithLogger(s.logger), bulk.WithOperator(operatorOf(r)))
	report, err := importer.DryRun(r.Context(), rows, total)
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleBulkCreate creates the accounts of an uploaded spreadsheet. A failed
// secret link pre-flight aborts with 503 and the report's top-level error.
func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	rows, _, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	importer := bulk.NewImporter(directoryOf(r), s.bulkOptions(r)...)
	report, err := importer.Run(context.WithoutCancel(r.Context()), rows)
	switch {
	case errors.Is(err, bulk.ErrPreflightFailed):
		writeJSON(w, http.StatusServiceUnavailable, report)
	case err != nil:
		s.logger.Error("bulk_create_aborted", slog.String("error", err.Error()))
		writeDirectoryError(w, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}
