package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// ErrPreflightFailed is returned by Importer.Run when the secret-link
// service is unreachable. No account has been touched when it is returned.
var ErrPreflightFailed = errors.New("bulk: secret link service unavailable")

// Outcome labels passed to the Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Option configures the orchestrator types.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	links    LinkGenerator
	observer Observer
	operator string
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLinkGenerator wraps generated passwords into secret links.
func WithLinkGenerator(links LinkGenerator) Option {
	return func(o *options) {
		o.links = links
	}
}

// WithObserver receives one event per processed item.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithOperator names the operator on whose behalf changes are made. It only
// appears in log lines.
func WithOperator(operator string) Option {
	return func(o *options) {
		o.operator = operator
	}
}

// Creator creates an account and attaches it to its groups.
type Creator struct {
	dir    ipa.Directory
	logger *slog.Logger
}

// NewCreator creates a Creator working on dir.
func NewCreator(dir ipa.Directory, opts ...Option) *Creator {
	o := buildOptions(opts)
	return &Creator{dir: dir, logger: o.logger}
}

// CreateWithGroups creates the account, then attaches each requested group
// independently. When groups were requested and none could be attached the
// account is deleted again and the result is a failure citing every group's
// reason. The deletion is best-effort: a failed rollback is logged and the
// row is still reported as failed.
func (c *Creator) CreateWithGroups(ctx context.Context, intent CreationIntent) CreationResult {
	result := CreationResult{
		Identifier: intent.FullName,
		Username:   intent.Username,
		Email:      intent.Email,
	}

	created, err := c.dir.AddUser(ctx, intent.NewUser())
	if err != nil {
		result.Error = ipa.UpstreamMessage(err)
		return result
	}

	outcome := &GroupOutcome{Attached: []string{}, Failed: []GroupFailure{}}
	for _, group := range intent.Groups {
		if err := c.dir.AddGroupMember(ctx, group, intent.Username); err != nil {
			outcome.Failed = append(outcome.Failed, GroupFailure{Group: group, Error: ipa.UpstreamMessage(err)})
			continue
		}
		outcome.Attached = append(outcome.Attached, group)
	}

	if len(intent.Groups) > 0 && len(outcome.Attached) == 0 {
		result.Groups = outcome
		result.Error = "account created but no group could be attached, account removed: " + groupFailures(outcome.Failed)
		if err := c.dir.DeleteUser(ctx, intent.Username); err != nil {
			result.Error = "account created but no group could be attached, removal failed: " + groupFailures(outcome.Failed)
			c.logger.Error("user_rollback_failed",
				slog.String("username", intent.Username),
				slog.String("error", err.Error()))
			return result
		}
		result.RolledBack = true
		c.logger.Warn("user_rolled_back",
			slog.String("username", intent.Username),
			slog.Int("failed_groups", len(outcome.Failed)))
		return result
	}

	if len(intent.Groups) > 0 {
		result.Groups = outcome
	}
	result.Password = created.Password
	return result
}

func groupFailures(failed []GroupFailure) string {
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = f.Group + ": " + f.Error
	}
	return strings.Join(parts, "; ")
}

// Importer runs spreadsheet imports.
type Importer struct {
	dir     ipa.Directory
	creator *Creator
	opts    options
}

// NewImporter creates an Importer working on dir.
func NewImporter(dir ipa.Directory, opts ...Option) *Importer {
	o := buildOptions(opts)
	return &Importer{
		dir:     dir,
		creator: &Creator{dir: dir, logger: o.logger},
		opts:    o,
	}
}

// Run validates and creates each row in order. A secret-link pre-flight
// check runs first; when it fails, or no link generator is configured,
// nothing is created and the returned error wraps ErrPreflightFailed. Rejected and failed rows are recorded and the
// import continues.
func (im *Importer) Run(ctx context.Context, rows []ImportRow) (ImportReport, error) {
	report := ImportReport{Success: []CreationResult{}, Failed: []CreationResult{}}
	logger := im.opts.logger.With(slog.String("operator", im.opts.operator))
	start := time.Now()

	logger.Info("bulk_create_started", slog.Int("rows", len(rows)))

	if err := im.preflight(ctx); err != nil {
		logger.Error("bulk_create_preflight_failed", slog.String("error", err.Error()))
		report.Error = fmt.Sprintf("secret link service unavailable: %v; no accounts were created", err)
		return report, fmt.Errorf("%w: %w", ErrPreflightFailed, err)
	}

	snapshot, err := TakeSnapshot(ctx, im.dir)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	validator := NewValidator(snapshot, NewGroupCache(im.dir))

	for _, row := range rows {
		verdict := validator.Validate(ctx, row)
		if !verdict.Accepted() {
			report.Failed = append(report.Failed, CreationResult{
				Row:        row.Row,
				Identifier: verdict.FullName,
				Username:   verdict.Username,
				Email:      verdict.Email,
				Error:      verdict.Reason(),
			})
			im.opts.observer.ObserveBulkItem("create", OutcomeRejected)
			continue
		}

		result := im.creator.CreateWithGroups(ctx, *verdict.Intent)
		result.Row = row.Row
		if !result.Succeeded() {
			logger.Warn("bulk_create_row_failed",
				slog.Int("row", row.Row),
				slog.String("username", result.Username),
				slog.String("error", result.Error))
			report.Failed = append(report.Failed, result)
			im.opts.observer.ObserveBulkItem("create", OutcomeFailed)
			continue
		}

		link, err := im.opts.links.CreateLink(ctx, result.Username, result.Password)
		if err != nil {
			result.SecretLinkError = err.Error()
			logger.Warn("secret_link_failed",
				slog.String("username", result.Username),
				slog.String("error", err.Error()))
		} else {
			result.SecretLink = link
		}

		logger.Info("bulk_create_row_created",
			slog.Int("row", row.Row),
			slog.String("username", result.Username))
		report.Success = append(report.Success, result)
		im.opts.observer.ObserveBulkItem("create", OutcomeSuccess)
	}

	logger.Info("bulk_create_completed",
		slog.Int("success", len(report.Success)),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("duration", time.Since(start)))
	return report, nil
}

// errNoLinkService is the pre-flight failure when no link generator is configured.
var errNoLinkService = errors.New("no secret link service configured")

// preflight proves a secret link can be issued before any account exists.
func (im *Importer) preflight(ctx context.Context) error {
	if im.opts.links == nil {
		return errNoLinkService
	}
	return im.opts.links.Check(ctx)
}

// DryRun validates rows against the directory without changing it. totalRows
// is the number of data rows in the file, blank ones included.
func (im *Importer) DryRun(ctx context.Context, rows []ImportRow, totalRows int) (ValidationReport, error) {
	report := ValidationReport{
		TotalRows: totalRows,
		Conflicts: []Conflict{},
		Warnings:  []Warning{},
	}

	snapshot, err := TakeSnapshot(ctx, im.dir)
	if err != nil {
		return report, err
	}
	validator := NewValidator(snapshot, NewGroupCache(im.dir))

	for _, row := range rows {
		verdict := validator.Validate(ctx, row)
		if !verdict.Accepted() {
			report.Conflicts = append(report.Conflicts, Conflict{
				Row:      row.Row,
				FullName: verdict.FullName,
				Username: verdict.Username,
				Email:    verdict.Email,
				Error:    verdict.Reason(),
			})
			continue
		}
		report.WouldCreate++
		for _, w := range verdict.Warnings {
			report.Warnings = append(report.Warnings, Warning{
				Row:      row.Row,
				FullName: verdict.FullName,
				Username: verdict.Username,
				Message:  w,
			})
		}
	}

	report.ConflictsCount = len(report.Conflicts)
	report.WarningsCount = len(report.Warnings)
	report.Valid = report.ConflictsCount == 0
	return report, nil
}

// Operator applies one operation of the delete/disable/enable/reset-password
// family to a list of identifiers.
type Operator struct {
	dir      ipa.Directory
	resolver *Resolver
	opts     options
}

// NewOperator creates an Operator working on dir.
func NewOperator(dir ipa.Directory, opts ...Option) *Operator {
	o := buildOptions(opts)
	return &Operator{dir: dir, resolver: NewResolver(dir, o.logger), opts: o}
}

// Apply resolves each identifier and applies op to it. Every item is
// independent: failures are recorded with the directory's message verbatim
// and processing continues.
func (p *Operator) Apply(ctx context.Context, op Operation, identifiers []string) OperationReport {
	report := OperationReport{
		Operation: op,
		Success:   []OperationSuccess{},
		Failed:    []OperationFailure{},
	}
	logger := p.opts.logger.With(slog.String("operator", p.opts.operator), slog.String("operation", string(op)))

	for _, raw := range identifiers {
		identifier := strings.TrimSpace(raw)
		if identifier == "" {
			report.Failed = append(report.Failed, OperationFailure{Identifier: raw, Error: "empty identifier"})
			p.opts.observer.ObserveBulkItem(string(op), OutcomeRejected)
			continue
		}

		success, err := p.applyOne(ctx, op, identifier)
		if err != nil {
			report.Failed = append(report.Failed, OperationFailure{
				Identifier: identifier,
				Username:   success.Username,
				Error:      ipa.UpstreamMessage(err),
			})
			p.opts.observer.ObserveBulkItem(string(op), OutcomeFailed)
			continue
		}
		report.Success = append(report.Success, success)
		p.opts.observer.ObserveBulkItem(string(op), OutcomeSuccess)
	}

	logger.Info("bulk_operation_completed",
		slog.Int("success", len(report.Success)),
		slog.Int("failed", len(report.Failed)))
	return report
}

func (p *Operator) applyOne(ctx context.Context, op Operation, identifier string) (OperationSuccess, error) {
	entry := OperationSuccess{Identifier: identifier}

	username, err := p.resolver.Resolve(ctx, identifier)
	if err != nil {
		return entry, err
	}
	entry.Username = username

	switch op {
	case OpDelete:
		err = p.dir.DeleteUser(ctx, username)
	case OpDisable:
		err = p.dir.DisableUser(ctx, username)
	case OpEnable:
		err = p.dir.EnableUser(ctx, username)
	case OpResetPassword:
		var reset *ipa.PasswordReset
		reset, err = p.dir.ResetPassword(ctx, username)
		if err == nil {
			entry.Password = reset.Password
			entry.PasswordExpiration = reset.Expiration
			p.attachLink(ctx, &entry)
		}
	default:
		err = fmt.Errorf("unsupported operation %q", op)
	}
	return entry, err
}

func (p *Operator) attachLink(ctx context.Context, entry *OperationSuccess) {
	if p.opts.links == nil {
		return
	}
	link, err := p.opts.links.CreateLink(ctx, entry.Username, entry.Password)
	if err != nil {
		entry.SecretLinkError = err.Error()
		p.opts.logger.Warn("secret_link_failed",
			slog.String("username", entry.Username),
			slog.String("error", err.Error()))
		return
	}
	entry.SecretLink = link
}
