package stories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/sharecache"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("story #%d", len(g.prompts)), nil
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveGeneration(kind string, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, kind+":"+outcome)
}

type testFixture struct {
	service   *Service
	db        *gorm.DB
	generator *stubGenerator
	cache     *sharecache.MemoryCache
	cacheNow  *time.Time
	observer  *recordingObserver
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Story{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	cacheNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	fixture := &testFixture{
		db:        db,
		generator: &stubGenerator{},
		cacheNow:  &cacheNow,
		observer:  &recordingObserver{},
	}
	fixture.cache = sharecache.NewMemoryCache(func() time.Time { return *fixture.cacheNow })

	clock := &steppingClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Generator:   fixture.generator,
		ShareCache:  fixture.cache,
		ShareTTL:    24 * time.Hour,
		Clock:       clock.Now,
		IDProvider:  &sequenceIDProvider{prefix: "story"},
		ShareTokens: &sequenceIDProvider{prefix: "share"},
		Observer:    fixture.observer,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	fixture.service = service
	return fixture
}

func (f *testFixture) advanceCache(duration time.Duration) {
	*f.cacheNow = f.cacheNow.Add(duration)
}

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustStoryID(t *testing.T, value string) StoryID {
	t.Helper()
	id, err := NewStoryID(value)
	if err != nil {
		t.Fatalf("unexpected story id error: %v", err)
	}
	return id
}

func mustGenerate(t *testing.T, fixture *testFixture, owner OwnerID, prompt string) Story {
	t.Helper()
	story, err := fixture.service.Generate(context.Background(), owner, prompt)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	return story
}
