package httpserver_test

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// In-memory store fakes with the real adapter's guarantees: CAS debit,
// from-guarded transitions, publish-after-append.

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers(users ...domain.User) *memUsers {
	m := &memUsers{users: make(map[string]*domain.User)}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) Create(_ domain.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return domain.ErrConflict
	}
	m.users[u.ID] = &u
	return nil
}

func (m *memUsers) Find(_ domain.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (m *memUsers) DebitCredits(_ domain.Context, id string, cost int) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if u.Credits < cost {
		return domain.User{}, domain.ErrInsufficientCredits
	}
	u.Credits -= cost
	return *u, nil
}

func (m *memUsers) CreditCredits(_ domain.Context, id string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	u.Credits += amount
	return u.Credits, nil
}

type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	seq       int
	publisher domain.LogPublisher
}

func newMemJobs(publisher domain.LogPublisher) *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job), publisher: publisher}
}

func (m *memJobs) Create(_ domain.Context, userID string, params domain.JobParameters) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("job-%d", m.seq)
	m.jobs[id] = &domain.Job{
		ID:         id,
		UserID:     userID,
		Type:       params.Type,
		Status:     domain.JobPending,
		Parameters: params,
		CreatedAt:  time.Now().UTC().Add(time.Duration(m.seq) * time.Microsecond),
	}
	return id, nil
}

func (m *memJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	cp := *j
	cp.Logs = append([]domain.LogEntry(nil), j.Logs...)
	return cp, nil
}

func (m *memJobs) Transition(_ domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, patch domain.JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if j.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrConflict
	}
	j.Status = to
	now := time.Now().UTC()
	switch {
	case patch.StartedAt != nil:
		j.StartedAt = patch.StartedAt
	case to == domain.JobInProgress && j.StartedAt == nil:
		j.StartedAt = &now
	}
	switch {
	case patch.CompletedAt != nil:
		j.CompletedAt = patch.CompletedAt
	case to.Terminal() && j.CompletedAt == nil:
		j.CompletedAt = &now
	}
	if patch.Results != nil {
		j.Results = patch.Results
	}
	if patch.Error != nil {
		j.Error = *patch.Error
	}
	if patch.CreditsUsed != nil {
		j.CreditsUsed = patch.CreditsUsed
	}
	return nil
}

func (m *memJobs) AppendLog(_ domain.Context, id string, entry domain.LogEntry) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	j.Logs = append(j.Logs, entry)
	pub := m.publisher
	m.mu.Unlock()
	if pub != nil {
		pub.Publish(id, entry)
	}
	return nil
}

func (m *memJobs) ListByUser(_ domain.Context, userID string, status domain.JobStatus) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (m *memJobs) FindStuck(_ domain.Context, cutoff time.Time) (inProgress, pending []domain.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		switch {
		case j.Status == domain.JobInProgress && j.StartedAt != nil && j.StartedAt.Before(cutoff):
			inProgress = append(inProgress, *j)
		case j.Status == domain.JobPending && j.CreatedAt.Before(cutoff):
			pending = append(pending, *j)
		}
	}
	return inProgress, pending, nil
}

func (m *memJobs) ListProducts(_ domain.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*domain.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	seen := make(map[string]bool)
	var products []string
	for _, j := range jobs {
		p := j.Parameters.Product()
		if p != "" && !seen[p] {
			seen[p] = true
			products = append(products, p)
		}
	}
	return products, nil
}

func (m *memJobs) CountByStatus(_ domain.Context, userID string) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, j := range m.jobs {
		if j.UserID == userID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

type memPosts struct {
	mu    sync.Mutex
	posts map[string]domain.Post
}

func newMemPosts() *memPosts { return &memPosts{posts: make(map[string]domain.Post)} }

func (m *memPosts) Save(_ domain.Context, p domain.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Product = domain.ProductKey(p.Product)
	m.posts[p.ID] = p
	return nil
}

func (m *memPosts) ListByProduct(_ domain.Context, product string, limit int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, p := range m.posts {
		if p.Product == domain.ProductKey(product) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Score > out[k].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPosts) CountByProduct(ctx domain.Context, product string) (int, error) {
	out, _ := m.ListByProduct(ctx, product, 0)
	return len(out), nil
}

func (m *memPosts) Count(_ domain.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts), nil
}

type memInsights struct {
	mu         sync.Mutex
	painPoints map[string]domain.PainPoint
	analyses   map[string]domain.Analysis
	recs       map[string]domain.RecommendationSet
}

func newMemInsights() *memInsights {
	return &memInsights{
		painPoints: make(map[string]domain.PainPoint),
		analyses:   make(map[string]domain.Analysis),
		recs:       make(map[string]domain.RecommendationSet),
	}
}

func pairKey(userID, product string) string { return userID + "/" + domain.ProductKey(product) }

func (m *memInsights) SavePainPoint(_ domain.Context, pp domain.PainPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pp.ID == "" {
		pp.ID = domain.PainPointID(pp.UserID, pp.Product, pp.Topic)
	}
	m.painPoints[pp.ID] = pp
	return nil
}

func (m *memInsights) ListPainPoints(_ domain.Context, userID, product string) ([]domain.PainPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PainPoint
	for _, pp := range m.painPoints {
		if pp.UserID == userID && domain.ProductKey(pp.Product) == domain.ProductKey(product) {
			out = append(out, pp)
		}
	}
	return out, nil
}

func (m *memInsights) DeletePainPoints(_ domain.Context, userID, product string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pp := range m.painPoints {
		if pp.UserID == userID && domain.ProductKey(pp.Product) == domain.ProductKey(product) {
			delete(m.painPoints, id)
		}
	}
	return nil
}

func (m *memInsights) CountPainPoints(_ domain.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.painPoints), nil
}

func (m *memInsights) SaveAnalysis(_ domain.Context, a domain.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[pairKey(a.UserID, a.Product)] = a
	return nil
}

func (m *memInsights) GetAnalysis(_ domain.Context, userID, product string) (domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[pairKey(userID, product)]
	if !ok {
		return domain.Analysis{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memInsights) DeleteAnalysis(_ domain.Context, userID, product string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.analyses, pairKey(userID, product))
	return nil
}

func (m *memInsights) SaveRecommendations(_ domain.Context, rs domain.RecommendationSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[pairKey(rs.UserID, rs.Product)+"/"+rs.RecommendationType] = rs
	return nil
}

func (m *memInsights) GetRecommendations(_ domain.Context, userID, product, recommendationType string) (domain.RecommendationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.recs[pairKey(userID, product)+"/"+recommendationType]
	if !ok {
		return domain.RecommendationSet{}, domain.ErrNotFound
	}
	return rs, nil
}

func (m *memInsights) DeleteRecommendations(_ domain.Context, userID, product string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := pairKey(userID, product) + "/"
	for k := range m.recs {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.recs, k)
		}
	}
	return nil
}

type stubScraper struct {
	posts []domain.Post
}

func (s *stubScraper) Search(_ domain.Context, _ string, _ []string, _ int, _ string, _ time.Duration) ([]domain.Post, error) {
	return append([]domain.Post(nil), s.posts...), nil
}
