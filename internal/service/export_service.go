package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/thesis-api/internal/models"
	"github.com/campushub/thesis-api/pkg/export"
	appErrors "github.com/campushub/thesis-api/pkg/errors"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportThesisStore interface {
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	ListRolesByThesisIDs(ctx context.Context, thesisIDs []string) (map[string][]models.ThesisRole, error)
}

type exportUserStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult carries a rendered export ready for download.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders staff-facing thesis overviews as CSV or PDF.
type ExportService struct {
	theses exportThesisStore
	users  exportUserStore
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(theses exportThesisStore, users exportUserStore, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{theses: theses, users: users, csv: csv, pdf: pdf, logger: logger}
}

var thesisOverviewHeaders = []string{"Title", "Type", "State", "Visibility", "Students", "Advisors", "Supervisors", "Final Grade", "Started", "Ended"}

// ThesisOverview renders the filtered thesis list. Callers gate access;
// the export includes private rows, so only staff should reach it.
func (s *ExportService) ThesisOverview(ctx context.Context, actor models.User, format ExportFormat, filter models.ThesisFilter) (*ExportResult, error) {
	if !CanManageTopics(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions to export theses")
	}

	filter.Page = 1
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 100
	}
	theses, _, err := s.theses.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load theses for export")
	}

	thesisIDs := make([]string, 0, len(theses))
	for _, thesis := range theses {
		thesisIDs = append(thesisIDs, thesis.ID)
	}
	rolesByThesis, err := s.theses.ListRolesByThesisIDs(ctx, thesisIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis roles for export")
	}
	for i := range theses {
		theses[i].Roles = rolesByThesis[theses[i].ID]
	}

	names, err := s.resolveNames(ctx, theses)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(theses))
	for _, thesis := range theses {
		rows = append(rows, map[string]string{
			"Title":       thesis.Title,
			"Type":        thesis.Type,
			"State":       string(thesis.State),
			"Visibility":  string(thesis.Visibility),
			"Students":    joinNames(names, thesis.RoleUserIDs(models.ThesisRoleStudent)),
			"Advisors":    joinNames(names, thesis.RoleUserIDs(models.ThesisRoleAdvisor)),
			"Supervisors": joinNames(names, thesis.RoleUserIDs(models.ThesisRoleSupervisor)),
			"Final Grade": derefString(thesis.FinalGrade),
			"Started":     formatExportDate(thesis.StartDate),
			"Ended":       formatExportDate(thesis.EndDate),
		})
	}
	dataset := export.Dataset{Headers: thesisOverviewHeaders, Rows: rows}

	timestamp := time.Now().UTC().Format("20060102_150405")
	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("theses_%s.csv", timestamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, "Thesis Overview")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("theses_%s.pdf", timestamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *ExportService) resolveNames(ctx context.Context, theses []models.Thesis) (map[string]string, error) {
	idSet := map[string]struct{}{}
	for _, thesis := range theses {
		for _, role := range thesis.Roles {
			idSet[role.UserID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return map[string]string{}, nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve user names for export")
	}
	names := make(map[string]string, len(users))
	for _, user := range users {
		names[user.ID] = user.FullName()
	}
	return names, nil
}

func joinNames(names map[string]string, ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok && name != "" {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, id)
	}
	return strings.Join(parts, ", ")
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatExportDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
