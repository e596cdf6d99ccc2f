package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/queue"
	"github.com/unclebandit/phishguard-backend/internal/service"
	"github.com/unclebandit/phishguard-backend/internal/testdata/memstore"
	"github.com/unclebandit/phishguard-backend/internal/testdata/mocknotify"
)

const (
	phishingTemplateID = 1
	adTemplateID       = 2
	credentialsModule  = 1
	malwareModule      = 2
	retiredModule      = 3
	orgID              = 7
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

type fixture struct {
	store     *memstore.Store
	queue     *queue.InMemoryQueue
	channel   *mocknotify.MockChannel
	notifier  *mocknotify.MockNotifier
	recorder  *service.Recorder
	registry  *service.RegistryService
	campaigns *service.CampaignService
	dispatch  *service.DispatchService
	orch      *service.Orchestrator
	stats     *service.StatsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	now := func() time.Time { return fixedNow }

	org := orgID
	otherOrg := 8
	for _, u := range []model.User{
		{ID: 1, Email: "alice@corp.com", FirstName: "Alice", LastName: "Smith", Department: "Finance", OrganizationID: &org, Role: model.RoleUser},
		{ID: 2, Email: "bob@corp.com", FirstName: "Bob", OrganizationID: &org, Role: model.RoleUser},
		{ID: 3, Email: "carol@corp.com", FirstName: "Carol", OrganizationID: &org, Role: model.RoleUser},
		{ID: 10, Email: "admin@corp.com", FirstName: "Root", Role: model.RoleSuperAdmin},
		{ID: 11, Email: "ADMIN@corp.com", FirstName: "Dup", OrganizationID: &org, Role: model.RoleOrgAdmin},
		{ID: 12, Email: "secops@corp.com", FirstName: "Sec", OrganizationID: &org, Role: model.RoleOrgAdmin},
		{ID: 13, Email: "other@elsewhere.com", FirstName: "Other", OrganizationID: &otherOrg, Role: model.RoleOrgAdmin},
	} {
		store.AddUser(u)
	}
	store.AddTemplate(model.Template{
		ID:        phishingTemplateID,
		Name:      "Password expiry",
		Kind:      model.KindPhishing,
		Category:  "credentials",
		Subject:   "{first_name}, your password expires today",
		BodyHTML:  `<html><body><p>Hi {first_name}</p><a href="https://login.example.com">Sign in</a></body></html>`,
		ActionURL: "https://login.example.com",
	})
	store.AddTemplate(model.Template{
		ID:       adTemplateID,
		Name:     "Free gift card",
		Kind:     model.KindAd,
		Category: "malvertising",
		BodyHTML: `<div><a href="{action_url}">Claim</a>{tracking_pixel}</div>`,
	})
	store.AddModule(model.TrainingModule{ID: credentialsModule, Title: "Spotting credential phishing", Category: "credentials", Active: true})
	store.AddModule(model.TrainingModule{ID: malwareModule, Title: "Malicious ads", Category: "malvertising", Active: true})
	store.AddModule(model.TrainingModule{ID: retiredModule, Title: "Old module", Category: "credentials", Active: false})

	q := queue.NewInMemoryQueue(logger)
	channel := &mocknotify.MockChannel{}
	notifier := &mocknotify.MockNotifier{}

	f := &fixture{store: store, queue: q, channel: channel, notifier: notifier}
	f.recorder = &service.Recorder{TargetRepo: store.Targets(), Queue: q, Logger: logger, Now: now}
	f.registry = &service.RegistryService{
		CampaignRepo: store.Campaigns(),
		TargetRepo:   store.Targets(),
		UserRepo:     store.Users(),
		TemplateRepo: store.Templates(),
		TrainingRepo: store.Training(),
		Logger:       logger,
		Now:          now,
	}
	f.campaigns = &service.CampaignService{
		CampaignRepo: store.Campaigns(),
		UserRepo:     store.Users(),
		TemplateRepo: store.Templates(),
		Queue:        q,
		Logger:       logger,
		BaseURL:      "https://track.example.com",
		Now:          now,
	}
	f.dispatch = &service.DispatchService{
		CampaignRepo: store.Campaigns(),
		TargetRepo:   store.Targets(),
		UserRepo:     store.Users(),
		TemplateRepo: store.Templates(),
		Channel:      channel,
		Recorder:     f.recorder,
		Logger:       logger,
		BaseURL:      "https://track.example.com",
		Timeout:      time.Second,
		Concurrency:  4,
	}
	f.orch = &service.Orchestrator{
		CampaignRepo: store.Campaigns(),
		UserRepo:     store.Users(),
		TemplateRepo: store.Templates(),
		TrainingRepo: store.Training(),
		Notifier:     notifier,
		Logger:       logger,
		Now:          now,
	}
	f.stats = &service.StatsService{
		CampaignRepo: store.Campaigns(),
		TargetRepo:   store.Targets(),
		TrainingRepo: store.Training(),
	}
	return f
}

// activeCampaign creates a campaign for the given recipients and marks it active
// without queueing dispatch.
func (f *fixture) activeCampaign(t *testing.T, kind model.CampaignKind, moduleID *int, recipients ...int) (*model.Campaign, []*model.Target) {
	t.Helper()
	tplID := phishingTemplateID
	if kind == model.KindAd {
		tplID = adTemplateID
	}
	c, n, err := f.registry.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:                "Q2 exercise",
		Kind:                string(kind),
		TemplateID:          tplID,
		RemediationModuleID: moduleID,
		RecipientIDs:        recipients,
	})
	require.NoError(t, err)
	require.Equal(t, len(recipients), n)
	f.store.SetStatus(c.ID, model.StatusActive)

	targets, err := f.store.Targets().ListByCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	return c, targets
}

// markSent records the sent event for every target.
func (f *fixture) markSent(t *testing.T, targets []*model.Target) {
	t.Helper()
	for _, tg := range targets {
		out, err := f.recorder.Record(context.Background(), tg.Token, model.EventSent, nil)
		require.NoError(t, err)
		require.Equal(t, model.OutcomeApplied, out)
	}
}

func (f *fixture) notifyOK() {
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
}
