package notifier

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	"github.com/smallbiznis/ecopoints/internal/providers/email"
	"github.com/smallbiznis/ecopoints/internal/summary"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var templateFS embed.FS

var weeklySummaryTemplate = template.Must(template.ParseFS(templateFS, "templates/weekly_summary.html"))

var (
	ErrUserNotFound         = userdomain.ErrNotFound
	ErrTransportUnavailable = email.ErrTransportUnavailable
)

const (
	resultSent    = "sent"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Users    userdomain.Repository
	Provider email.Provider
}

type Notifier struct {
	db          *gorm.DB
	log         *zap.Logger
	frontendURL string
	users       userdomain.Repository
	provider    email.Provider
	metrics     *obsmetrics.PointsMetrics
}

func New(p Params) *Notifier {
	return &Notifier{
		db:          p.DB,
		log:         p.Log.Named("notifier"),
		frontendURL: strings.TrimRight(p.Config.FrontendURL, "/"),
		users:       p.Users,
		provider:    p.Provider,
		metrics:     obsmetrics.Points(),
	}
}

type summaryView struct {
	Name          string
	WeekStart     string
	WeekEnd       string
	TotalCo2      string
	TotalPoints   int64
	ActivityCount int64
	TrendText     string
	TrendColor    string
	DashboardURL  string
	SettingsURL   string
}

// SendSummaryEmail mails the weekly summary to the user. It reports false
// without an error when no mail transport is configured. Delivery is
// attempted once; retrying is the caller's decision.
func (n *Notifier) SendSummaryEmail(ctx context.Context, userID snowflake.ID, s summary.WeeklySummary) (bool, error) {
	log := logger.WithContext(ctx, n.log).With(
		zap.String("user_id", userID.String()),
		zap.String("summary_id", s.ID.String()),
	)

	if !n.provider.Configured() {
		n.metrics.IncEmail(resultSkipped)
		log.Info("notifier.email.skipped", zap.String("reason", "transport_unavailable"))
		return false, nil
	}

	user, err := n.users.FindByID(ctx, n.db, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, ErrUserNotFound
	}

	start, end := formatRange(s)
	var body bytes.Buffer
	if err := weeklySummaryTemplate.Execute(&body, n.view(user, s, start, end)); err != nil {
		return false, fmt.Errorf("render weekly summary: %w", err)
	}

	err = n.provider.Send(ctx, email.Message{
		To:      []string{user.Email},
		Subject: fmt.Sprintf("Your Weekly Carbon Footprint Summary - %s to %s", start, end),
		HTML:    body.String(),
	})
	if errors.Is(err, email.ErrTransportUnavailable) {
		n.metrics.IncEmail(resultSkipped)
		log.Info("notifier.email.skipped", zap.String("reason", "transport_unavailable"))
		return false, nil
	}
	if err != nil {
		n.metrics.IncEmail(resultFailed)
		log.Warn("notifier.email.failed", zap.Error(err))
		return false, err
	}

	n.metrics.IncEmail(resultSent)
	log.Info("notifier.email.sent")
	return true, nil
}

func (n *Notifier) view(user *userdomain.User, s summary.WeeklySummary, start, end string) summaryView {
	name := strings.TrimSpace(user.DisplayName)
	if name == "" {
		name = "there"
	}
	text, color := "stayed the same", "#6b7280"
	switch s.Trend {
	case summary.TrendDown:
		text, color = "decreased", "#10b981"
	case summary.TrendUp:
		text, color = "increased", "#ef4444"
	}
	return summaryView{
		Name:          name,
		WeekStart:     start,
		WeekEnd:       end,
		TotalCo2:      fmt.Sprintf("%.2f", s.TotalCo2Kg),
		TotalPoints:   s.TotalPoints,
		ActivityCount: s.ActivityCount,
		TrendText:     text,
		TrendColor:    color,
		DashboardURL:  n.frontendURL + "/dashboard",
		SettingsURL:   n.frontendURL + "/settings",
	}
}

func formatRange(s summary.WeeklySummary) (string, string) {
	return s.WeekStart.UTC().Format("Jan 2"), s.WeekEnd.UTC().Format("Jan 2, 2006")
}
