//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unclebandit/phishguard-backend/internal/db"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/repository"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

type PostgresSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	conn      *sql.DB

	campaigns *repository.CampaignRepository
	targets   *repository.TargetRepository
	training  *repository.TrainingRepository

	users    []int
	template int
	module   int
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	container, err := postgres.RunContainer(s.ctx,
		testcontainers.WithImage("postgres:15"),
		postgres.WithDatabase("phishguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.conn, err = sql.Open("postgres", connStr)
	s.Require().NoError(err)
	s.Require().NoError(db.RunMigrations(s.ctx, s.conn))

	s.campaigns = &repository.CampaignRepository{DB: s.conn}
	s.targets = &repository.TargetRepository{DB: s.conn}
	s.training = &repository.TrainingRepository{DB: s.conn}

	for _, email := range []string{"alice@corp.com", "bob@corp.com"} {
		var id int
		s.Require().NoError(s.conn.QueryRowContext(s.ctx,
			`INSERT INTO users (email, first_name, organization_id, role) VALUES ($1, 'x', 1, 'user') RETURNING id`,
			email).Scan(&id))
		s.users = append(s.users, id)
	}
	s.Require().NoError(s.conn.QueryRowContext(s.ctx,
		`INSERT INTO templates (name, kind, category, body_html) VALUES ('t', 'phishing', 'credentials', 'hi') RETURNING id`,
	).Scan(&s.template))
	s.Require().NoError(s.conn.QueryRowContext(s.ctx,
		`INSERT INTO training_modules (title, category) VALUES ('Spotting credential lures', 'credentials') RETURNING id`,
	).Scan(&s.module))
}

func (s *PostgresSuite) TearDownSuite() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate container: %s", err)
		}
	}
}

func (s *PostgresSuite) newCampaign(kind model.CampaignKind, mint token.Minter) (*model.Campaign, []*model.Target) {
	c := &model.Campaign{Name: "integration", Kind: kind, Status: model.StatusActive, TemplateID: s.template}
	targets, err := s.campaigns.CreateWithTargets(s.ctx, c, s.users[:1], mint)
	s.Require().NoError(err)
	return c, targets
}

func (s *PostgresSuite) TestConcurrentClicksApplyOnce() {
	c, targets := s.newCampaign(model.KindPhishing, token.New)
	tok := targets[0].Token

	const n = 20
	outcomes := make(chan model.Outcome, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tr, err := s.targets.RecordEvent(s.ctx, tok, model.EventClicked, &model.ClickMeta{IP: "203.0.113.9"}, time.Now().UTC())
			if err != nil {
				s.T().Errorf("record click: %v", err)
				return
			}
			outcomes <- tr.Outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	applied := 0
	for o := range outcomes {
		if o == model.OutcomeApplied {
			applied++
		} else {
			s.Equal(model.OutcomeDuplicate, o)
		}
	}
	s.Equal(1, applied)

	got, err := s.campaigns.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(1, got.Counters.Clicked)
}

func (s *PostgresSuite) TestRepeatedEventIsDuplicate() {
	c, targets := s.newCampaign(model.KindPhishing, token.New)
	tok := targets[0].Token

	first, err := s.targets.RecordEvent(s.ctx, tok, model.EventOpened, nil, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(model.OutcomeApplied, first.Outcome)
	s.Equal(c.ID, first.CampaignID)

	second, err := s.targets.RecordEvent(s.ctx, tok, model.EventOpened, nil, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(model.OutcomeDuplicate, second.Outcome)

	got, err := s.campaigns.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(1, got.Counters.Opened)
}

func (s *PostgresSuite) TestSubmitOnAdIsIgnored() {
	c, targets := s.newCampaign(model.KindAd, token.New)

	tr, err := s.targets.RecordEvent(s.ctx, targets[0].Token, model.EventSubmitted, nil, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(model.OutcomeIgnored, tr.Outcome)

	got, err := s.campaigns.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Zero(got.Counters.Submitted)
}

func (s *PostgresSuite) TestUnknownTokenIsNotFound() {
	tr, err := s.targets.RecordEvent(s.ctx, "no-such-token", model.EventClicked, nil, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(model.OutcomeNotFound, tr.Outcome)
}

func (s *PostgresSuite) TestCollidingTokenIsReminted() {
	_, existing := s.newCampaign(model.KindPhishing, token.New)
	taken := existing[0].Token

	minted := []string{taken, "fresh-token-after-collision"}
	mint := func() (string, error) {
		tok := minted[0]
		minted = minted[1:]
		return tok, nil
	}
	_, targets := s.newCampaign(model.KindPhishing, mint)
	s.Equal("fresh-token-after-collision", targets[0].Token)

	always := func() (string, error) { return taken, nil }
	c := &model.Campaign{Name: "exhausted", Kind: model.KindPhishing, Status: model.StatusDraft, TemplateID: s.template}
	_, err := s.campaigns.CreateWithTargets(s.ctx, c, s.users[:1], always)
	s.Error(err)
}

func (s *PostgresSuite) TestCreateFailureOncePerTarget() {
	c, targets := s.newCampaign(model.KindPhishing, token.New)
	f := func() *model.TrainingFailure {
		return &model.TrainingFailure{
			UserID: s.users[0], CampaignID: c.ID, TargetID: targets[0].ID,
			Category: "credentials", Status: model.FailurePendingTraining,
		}
	}

	created, err := s.training.CreateFailure(s.ctx, f())
	s.Require().NoError(err)
	s.True(created)

	created, err = s.training.CreateFailure(s.ctx, f())
	s.Require().NoError(err)
	s.False(created)

	n, err := s.training.CountFailures(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresSuite) TestReassignIfAbsent() {
	user := s.users[1]
	now := time.Now().UTC()

	created, err := s.training.ReassignIfAbsent(s.ctx, user, s.module, now)
	s.Require().NoError(err)
	s.True(created)

	created, err = s.training.ReassignIfAbsent(s.ctx, user, s.module, now)
	s.Require().NoError(err)
	s.False(created)
}
