package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jinzhu/now"
	"go.uber.org/zap"

	"marketdash/internal/config"
	"marketdash/internal/database"
	"marketdash/internal/domain/project"
	jwtsvc "marketdash/internal/pkg/jwt"
	applog "marketdash/internal/pkg/logger"
)

const (
	clientID   int64 = 1001
	providerID int64 = 2001
	adminID    int64 = 9001
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := applog.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	logger.Info("cleaning old data")
	for _, table := range []string{
		"approval_requests", "time_entries", "task_comments", "task_attachments",
		"tasks", "milestones", "invoices", "bookings",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			logger.Fatal("cleanup failed", zap.String("table", table), zap.Error(err))
		}
	}

	repo := project.NewRepository(db, logger.Named("store"))
	ctx := context.Background()
	weekStart := now.With(time.Now().In(cfg.Location)).BeginningOfWeek()

	active := seedActiveBooking(ctx, logger, repo, weekStart)
	seedInvoicedBooking(ctx, logger, repo, weekStart)
	seedEmptyBooking(ctx, logger, repo)

	j := jwtsvc.New(cfg.JWTSecret, 30*24*time.Hour)
	for _, p := range []struct {
		id   int64
		role string
	}{{clientID, "client"}, {providerID, "provider"}, {adminID, "admin"}} {
		token, err := j.GenerateToken(p.id, p.role)
		if err != nil {
			logger.Fatal("token generation failed", zap.Error(err))
		}
		fmt.Printf("%-8s user=%d token=%s\n", p.role, p.id, token)
	}
	fmt.Printf("\ntry: curl -H \"Authorization: Bearer <client token>\" http://localhost%s/api/v1/bookings/%d/progress\n", cfg.HTTPAddr, active)
}

func must(logger *zap.Logger, what string, err error) {
	if err != nil {
		logger.Fatal("seed failed", zap.String("step", what), zap.Error(err))
	}
}

func minutes(v float64) *float64 { return &v }

// seedActiveBooking builds a three-phase project midway through its second phase.
func seedActiveBooking(ctx context.Context, logger *zap.Logger, repo *project.Repository, weekStart time.Time) int64 {
	b := &project.Booking{
		ClientID:   clientID,
		ProviderID: providerID,
		Status:     project.BookingInProgress,
		Amount:     4800,
		Currency:   "USD",
		Notes:      "Brand refresh: discovery, design, delivery",
	}
	must(logger, "booking", repo.CreateBooking(ctx, b))

	phases := []struct {
		title  string
		status project.MilestoneStatus
		hours  float64
	}{
		{"Discovery", project.MilestoneCompleted, 8},
		{"Design", project.MilestoneInProgress, 24},
		{"Delivery", project.MilestonePending, 12},
	}
	ms := make([]project.Milestone, len(phases))
	for i, p := range phases {
		ms[i] = project.Milestone{BookingID: b.ID, Title: p.title, OrderIndex: i + 1, Status: p.status, EstimatedHours: p.hours}
		must(logger, "milestone", repo.CreateMilestone(ctx, &ms[i]))
	}

	due := weekStart.AddDate(0, 0, 2)
	tasks := []project.Task{
		{MilestoneID: ms[0].ID, Title: "Stakeholder interviews", Status: project.TaskCompleted, Priority: project.PriorityHigh, EstimatedHours: 4},
		{MilestoneID: ms[0].ID, Title: "Audit existing assets", Status: project.TaskCompleted, EstimatedHours: 4},
		{MilestoneID: ms[1].ID, Title: "Moodboards", Status: project.TaskCompleted, EstimatedHours: 6},
		{MilestoneID: ms[1].ID, Title: "Logo concepts", Status: project.TaskInProgress, Priority: "urgent", EstimatedHours: 10, DueDate: &due},
		{MilestoneID: ms[1].ID, Title: "Palette and type", Status: project.TaskNotStarted, EstimatedHours: 8},
		{MilestoneID: ms[2].ID, Title: "Export asset pack", Status: project.TaskNotStarted, EstimatedHours: 6},
	}
	for i := range tasks {
		tasks[i].BookingID = b.ID
		tasks[i].OrderIndex = i + 1
		if i == 5 {
			tasks[i].Dependencies = []int64{tasks[3].ID, tasks[4].ID}
		}
		must(logger, "task", repo.CreateTask(ctx, &tasks[i]))
	}

	logs := []struct {
		task int
		mins float64
		day  int
	}{{0, 240, 0}, {1, 180, 0}, {2, 300, 1}, {3, 150, 2}, {3, 90, 3}}
	for _, l := range logs {
		at := weekStart.AddDate(0, 0, l.day).Add(10 * time.Hour)
		e := &project.TimeEntry{TaskID: tasks[l.task].ID, BookingID: b.ID, DurationMinutes: minutes(l.mins), LoggedAt: &at}
		must(logger, "time entry", repo.AppendTimeEntry(ctx, e))
	}

	must(logger, "attachment", repo.AddAttachment(ctx, &project.TaskAttachment{
		TaskID:    tasks[2].ID,
		BookingID: b.ID,
		AddedBy:   providerID,
		Reference: fmt.Sprintf("bookings/%d/moodboards-v1.pdf", b.ID),
	}))
	must(logger, "approval", repo.CreateApproval(ctx, &project.ApprovalRequest{
		TaskID:          tasks[2].ID,
		BookingID:       b.ID,
		Type:            project.ApprovalTypeMilestone,
		Status:          project.RequestPending,
		RequestedByRole: project.RoleProvider,
		Notes:           "Moodboard direction sign-off",
	}))

	logger.Info("seeded active booking", zap.Int64("booking_id", b.ID))
	return b.ID
}

func seedInvoicedBooking(ctx context.Context, logger *zap.Logger, repo *project.Repository, weekStart time.Time) {
	b := &project.Booking{ClientID: clientID, ProviderID: providerID, Status: project.BookingApproved, Amount: 900, Currency: "USD"}
	must(logger, "booking", repo.CreateBooking(ctx, b))

	m := &project.Milestone{BookingID: b.ID, Title: "Product shoot", OrderIndex: 1, Status: project.MilestoneCompleted, EstimatedHours: 3}
	must(logger, "milestone", repo.CreateMilestone(ctx, m))
	t := &project.Task{MilestoneID: m.ID, BookingID: b.ID, Title: "Shoot and retouch", Status: project.TaskCompleted, EstimatedHours: 3, OrderIndex: 1}
	must(logger, "task", repo.CreateTask(ctx, t))

	at := weekStart.AddDate(0, 0, -3)
	must(logger, "time entry", repo.AppendTimeEntry(ctx, &project.TimeEntry{TaskID: t.ID, BookingID: b.ID, DurationMinutes: minutes(200), LoggedAt: &at}))
	must(logger, "invoice", repo.CreateInvoice(ctx, &project.Invoice{BookingID: b.ID, Status: project.InvoiceIssued, AmountCents: 90000}))

	logger.Info("seeded invoiced booking", zap.Int64("booking_id", b.ID))
}

// seedEmptyBooking has no milestones; its progress is not applicable.
func seedEmptyBooking(ctx context.Context, logger *zap.Logger, repo *project.Repository) {
	b := &project.Booking{ClientID: clientID, ProviderID: providerID, Status: project.BookingPending, Amount: 300, Currency: "USD"}
	must(logger, "booking", repo.CreateBooking(ctx, b))
	logger.Info("seeded empty booking", zap.Int64("booking_id", b.ID))
}
