package api

import (
	"bytes"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/netresearch/ipa-admin-portal/internal/excel"
	"github.com/netresearch/ipa-admin-portal/internal/report"
)

func (s *Server) handleUsersGroupsReport(w http.ResponseWriter, r *http.Request) {
	users, err := directoryOf(r).FindUsers(r.Context())
	if err != nil {
		writeDirectoryError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteUsersGroupsCSV(&buf, users); err != nil {
		s.logger.Error("report_render_failed", slog.String("error", err.Error()))
		WriteProblem(w, http.StatusInternalServerError, "could not render report")
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", report.UsersGroupsFilename, buf.Bytes())
}

func (s *Server) handleFullInfoReport(w http.ResponseWriter, r *http.Request) {
	users, err := directoryOf(r).FindUsers(r.Context())
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.NewFullInfo(users))
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := excel.WriteTemplate(&buf); err != nil {
		s.logger.Error("template_render_failed", slog.String("error", err.Error()))
		WriteProblem(w, http.StatusInternalServerError, "could not render template")
		return
	}
	writeAttachment(w, excel.ContentType, excel.TemplateFilename, buf.Bytes())
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
