// Package memstore is an in-memory stand-in for the PostgreSQL repositories.
// A single mutex plays the role of the row lock behind each conditional update.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/phishguard-backend/internal/errors"
	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/repository"
	"github.com/unclebandit/phishguard-backend/internal/token"
)

type Store struct {
	mu sync.Mutex

	nextCampaignID int
	nextTargetID   int

	campaigns map[int]*model.Campaign
	targets   map[string]*model.Target
	users     map[int]*model.User
	templates map[int]*model.Template
	modules   map[int]*model.TrainingModule
	failures  []model.TrainingFailure
	sessions  []model.TrainingSession

	// Errs forces a method (by name) to fail.
	Errs map[string]error
}

func New() *Store {
	return &Store{
		campaigns: map[int]*model.Campaign{},
		targets:   map[string]*model.Target{},
		users:     map[int]*model.User{},
		templates: map[int]*model.Template{},
		modules:   map[int]*model.TrainingModule{},
		Errs:      map[string]error{},
	}
}

func (s *Store) fail(name string) error {
	return s.Errs[name]
}

// ---- seeding and inspection ----

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *Store) AddTemplate(t model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = &t
}

func (s *Store) AddModule(m model.TrainingModule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ID] = &m
}

func (s *Store) AddSession(sess model.TrainingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

func (s *Store) Campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *Store) SetStatus(id int, status model.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *Store) Target(tok string) model.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.targets[tok]
}

func (s *Store) Failures() []model.TrainingFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TrainingFailure(nil), s.failures...)
}

func (s *Store) Sessions() []model.TrainingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TrainingSession(nil), s.sessions...)
}

// Campaigns, Targets, Users, Templates and Training expose the store through
// the repository interfaces.
func (s *Store) Campaigns() repository.CampaignRepositoryInterface { return (*campaigns)(s) }
func (s *Store) Targets() repository.TargetRepositoryInterface     { return (*targets)(s) }
func (s *Store) Users() repository.UserRepositoryInterface         { return (*users)(s) }
func (s *Store) Templates() repository.TemplateRepositoryInterface { return (*templates)(s) }
func (s *Store) Training() repository.TrainingRepositoryInterface  { return (*training)(s) }

// insertTargetLocked mirrors the ON CONFLICT (token) retry loop.
func (s *Store) insertTargetLocked(campaignID, userID int, mint token.Minter) (*model.Target, error) {
	for attempt := 1; attempt <= token.MaxAttempts; attempt++ {
		tok, err := mint()
		if err != nil {
			return nil, err
		}
		if _, taken := s.targets[tok]; taken {
			continue
		}
		s.nextTargetID++
		t := &model.Target{
			ID:         s.nextTargetID,
			CampaignID: campaignID,
			UserID:     userID,
			Token:      tok,
			CreatedAt:  time.Now().UTC(),
		}
		s.targets[tok] = t
		return t, nil
	}
	return nil, errTokenExhausted
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errTokenExhausted = storeError("token collided too many times")

// ---- campaigns ----

type campaigns Store

func (c *campaigns) CreateWithTargets(ctx context.Context, camp *model.Campaign, userIDs []int, mint token.Minter) ([]*model.Target, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateWithTargets"); err != nil {
		return nil, err
	}

	s.nextCampaignID++
	id := s.nextCampaignID
	var created []*model.Target
	for _, userID := range userIDs {
		t, err := s.insertTargetLocked(id, userID, mint)
		if err != nil {
			for _, ct := range created {
				delete(s.targets, ct.Token)
			}
			s.nextCampaignID--
			return nil, err
		}
		created = append(created, t)
	}

	camp.ID = id
	if camp.CreatedAt.IsZero() {
		camp.CreatedAt = time.Now().UTC()
	}
	stored := *camp
	s.campaigns[id] = &stored

	out := make([]*model.Target, len(created))
	for i, t := range created {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

func (c *campaigns) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetCampaign"); err != nil {
		return nil, err
	}
	camp, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *camp
	return &cp, nil
}

func (c *campaigns) ListCampaigns(ctx context.Context, offset, limit int, kind, status string) ([]*model.Campaign, int, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Campaign
	for _, camp := range s.campaigns {
		if kind != "" && string(camp.Kind) != kind {
			continue
		}
		if status != "" && string(camp.Status) != status {
			continue
		}
		cp := *camp
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (c *campaigns) Delete(ctx context.Context, id int) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(s.campaigns, id)
	for tok, t := range s.targets {
		if t.CampaignID == id {
			delete(s.targets, tok)
		}
	}
	return nil
}

func (c *campaigns) TransitionStatus(ctx context.Context, id int, from, to model.CampaignStatus, at time.Time) (bool, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	camp, ok := s.campaigns[id]
	if !ok || camp.Status != from {
		return false, nil
	}
	camp.Status = to
	camp.UpdatedAt = &at
	if to == model.StatusActive && camp.StartedAt == nil {
		camp.StartedAt = &at
	}
	if to == model.StatusCompleted {
		camp.CompletedAt = &at
	}
	return true, nil
}

func (c *campaigns) ListDueScheduled(ctx context.Context, now time.Time) ([]int, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int{}
	for id, camp := range s.campaigns {
		if camp.Status == model.StatusScheduled && camp.ScheduledAt != nil && !camp.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (c *campaigns) TotalCounters(ctx context.Context) (model.Counters, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	var total model.Counters
	for _, camp := range s.campaigns {
		total = total.Add(camp.Counters)
	}
	return total, nil
}

// ---- targets ----

type targets Store

func (t *targets) listLocked(campaignID int, unsentOnly bool) []*model.Target {
	s := (*Store)(t)
	out := []*model.Target{}
	for _, tg := range s.targets {
		if tg.CampaignID != campaignID || (unsentOnly && tg.Sent) {
			continue
		}
		cp := *tg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *targets) ListByCampaign(ctx context.Context, campaignID int) ([]*model.Target, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.listLocked(campaignID, false), nil
}

func (t *targets) ListUnsent(ctx context.Context, campaignID int) ([]*model.Target, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListUnsent"); err != nil {
		return nil, err
	}
	return t.listLocked(campaignID, true), nil
}

func (t *targets) GetByToken(ctx context.Context, tok string) (*model.Target, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	tg, ok := s.targets[tok]
	if !ok {
		return nil, appErrors.ErrTargetNotFound
	}
	cp := *tg
	return &cp, nil
}

func (t *targets) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(t.listLocked(campaignID, false)), nil
}

func (t *targets) ReplaceRecipients(ctx context.Context, campaignID int, userIDs []int, mint token.Minter) (int, int, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	camp, ok := s.campaigns[campaignID]
	if !ok {
		return 0, 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if !camp.Status.Editable() {
		return 0, 0, appErrors.NewValidation("recipients of a %s campaign cannot be changed", camp.Status)
	}

	want := map[int]bool{}
	for _, id := range userIDs {
		want[id] = true
	}
	existing := map[int]bool{}
	removed := 0
	for tok, tg := range s.targets {
		if tg.CampaignID != campaignID {
			continue
		}
		if !want[tg.UserID] {
			delete(s.targets, tok)
			removed++
			continue
		}
		existing[tg.UserID] = true
	}
	added := 0
	for _, id := range userIDs {
		if existing[id] {
			continue
		}
		if _, err := s.insertTargetLocked(campaignID, id, mint); err != nil {
			return 0, 0, err
		}
		existing[id] = true
		added++
	}
	return added, removed, nil
}

func (t *targets) RecordEvent(ctx context.Context, tok string, event model.EventKind, meta *model.ClickMeta, at time.Time) (*model.Transition, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordEvent"); err != nil {
		return nil, err
	}

	tr := &model.Transition{Event: event, Token: tok, At: at}
	tg, ok := s.targets[tok]
	if !ok {
		tr.Outcome = model.OutcomeNotFound
		return tr, nil
	}
	camp := s.campaigns[tg.CampaignID]
	tr.TargetID, tr.CampaignID, tr.UserID, tr.CampaignKind = tg.ID, tg.CampaignID, tg.UserID, camp.Kind

	if event == model.EventSubmitted && camp.Kind == model.KindAd {
		tr.Outcome = model.OutcomeIgnored
		return tr, nil
	}
	if tg.Flag(event) {
		tr.Outcome = model.OutcomeDuplicate
		return tr, nil
	}

	stamp := at
	switch event {
	case model.EventSent:
		tg.Sent, tg.SentAt = true, &stamp
		camp.Counters.Sent++
	case model.EventOpened:
		tg.Opened, tg.OpenedAt = true, &stamp
		camp.Counters.Opened++
	case model.EventClicked:
		tg.Clicked, tg.ClickedAt = true, &stamp
		if meta != nil {
			tg.ClickIP, tg.ClickUserAgent = meta.IP, meta.UserAgent
		}
		camp.Counters.Clicked++
	case model.EventSubmitted:
		tg.Submitted, tg.SubmittedAt = true, &stamp
		camp.Counters.Submitted++
	default:
		return nil, storeError("unknown event " + string(event))
	}
	tr.Outcome = model.OutcomeApplied
	return tr, nil
}

// ---- users ----

type users Store

func (u *users) GetByID(ctx context.Context, id int) (*model.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	usr, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *usr
	return &cp, nil
}

func (u *users) ExistingIDs(ctx context.Context, ids []int) ([]int, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []int{}
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (u *users) byRole(match func(*model.User) bool) []model.User {
	s := (*Store)(u)
	out := []model.User{}
	for _, usr := range s.users {
		if match(usr) {
			out = append(out, *usr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (u *users) ListSuperAdmins(ctx context.Context) ([]model.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListSuperAdmins"); err != nil {
		return nil, err
	}
	return u.byRole(func(usr *model.User) bool { return usr.Role == model.RoleSuperAdmin }), nil
}

func (u *users) ListOrgAdmins(ctx context.Context, orgID int) ([]model.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	return u.byRole(func(usr *model.User) bool {
		return usr.Role == model.RoleOrgAdmin && usr.OrganizationID != nil && *usr.OrganizationID == orgID
	}), nil
}

// ---- templates ----

type templates Store

func (t *templates) GetByID(ctx context.Context, id int) (*model.Template, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	cp := *tpl
	return &cp, nil
}

// ---- training ----

type training Store

func (tr *training) CreateFailure(ctx context.Context, f *model.TrainingFailure) (bool, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateFailure"); err != nil {
		return false, err
	}
	for _, existing := range s.failures {
		if existing.TargetID == f.TargetID {
			return false, nil
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.failures = append(s.failures, *f)
	return true, nil
}

func (tr *training) CountFailures(ctx context.Context, campaignID int) (int, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.failures {
		if f.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (tr *training) GetModule(ctx context.Context, id int) (*model.TrainingModule, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (tr *training) ListActiveModules(ctx context.Context) ([]model.TrainingModule, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.TrainingModule{}
	for _, m := range s.modules {
		if m.Active {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tr *training) ResetInProgress(ctx context.Context, userID int, category string, at time.Time) (int64, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ResetInProgress"); err != nil {
		return 0, err
	}
	var n int64
	for i := range s.sessions {
		sess := &s.sessions[i]
		m, ok := s.modules[sess.ModuleID]
		if sess.UserID != userID || sess.Status != model.SessionInProgress || !ok || m.Category != category {
			continue
		}
		sess.Status, sess.Progress, sess.UpdatedAt = model.SessionNotStarted, 0, at
		n++
	}
	return n, nil
}

func (tr *training) ReassignIfAbsent(ctx context.Context, userID, moduleID int, at time.Time) (bool, error) {
	s := (*Store)(tr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReassignIfAbsent"); err != nil {
		return false, err
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ModuleID == moduleID && sess.Status == model.SessionReassigned {
			return false, nil
		}
	}
	s.sessions = append(s.sessions, model.TrainingSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		ModuleID:  moduleID,
		Status:    model.SessionReassigned,
		CreatedAt: at,
		UpdatedAt: at,
	})
	return true, nil
}
