package preview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"campaign-preview-engine/internal/observability"
	"campaign-preview-engine/internal/render"
	"campaign-preview-engine/internal/storage"
)

// ErrInvalidRequest marks request shape problems (missing ids, empty template).
var ErrInvalidRequest = errors.New("invalid request")

// Store is the read side the service needs from persistence.
type Store interface {
	GetTemplate(ctx context.Context, id string) (*storage.TemplateRow, error)
	GetInfluencer(ctx context.Context, id string) (*storage.InfluencerRow, error)
	GetInfluencers(ctx context.Context, ids []string) (map[string]*storage.InfluencerRow, error)
	GetUser(ctx context.Context, id string) (*storage.UserRow, error)
}

type Service struct {
	store       Store
	templates   *storage.TemplateCache
	renderer    *render.Renderer
	concurrency int
}

// NewService wires the preview flows. templates may be nil, in which case
// every template is read from the store.
func NewService(store Store, templates *storage.TemplateCache, renderer *render.Renderer, concurrency int) *Service {
	if renderer == nil {
		renderer = render.New(nil)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{store: store, templates: templates, renderer: renderer, concurrency: concurrency}
}

// Template returns a template visible to userID, preferring the cache.
// A template owned by another user is reported as not found.
func (s *Service) Template(ctx context.Context, id, userID string) (*storage.TemplateRow, error) {
	var t *storage.TemplateRow
	if s.templates != nil {
		if cached, ok := s.templates.Get(id); ok {
			t = &cached
		}
	}
	if t == nil {
		var err error
		if t, err = s.store.GetTemplate(ctx, id); err != nil {
			return nil, err
		}
	}
	if userID != "" && t.UserID != "" && t.UserID != userID {
		return nil, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

// Preview renders one template for one influencer.
func (s *Service) Preview(ctx context.Context, req SingleRequest) (*Preview, error) {
	if req.InfluencerID == "" {
		return nil, fmt.Errorf("%w: influencerId is required", ErrInvalidRequest)
	}

	var (
		subject, content = req.Subject, req.Content
		rulesJSON        = req.ConditionalRules
		stored           render.Variables
	)
	if req.TemplateID != "" {
		t, err := s.Template(ctx, req.TemplateID, req.UserID)
		if err != nil {
			return nil, err
		}
		subject, content, rulesJSON, stored = t.Subject, t.Content, t.ConditionalRules, t.UserVariables
	} else if subject == "" && content == "" {
		return nil, fmt.Errorf("%w: templateId or subject/content is required", ErrInvalidRequest)
	}

	inf, err := s.store.GetInfluencer(ctx, req.InfluencerID)
	if err != nil {
		return nil, err
	}
	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	rc := render.Context{
		User:      user,
		Variables: mergeVariables(stored, req.UserVariables),
		Rules:     s.rules(req.TemplateID, rulesJSON),
	}
	p := s.render(subject, content, toInfluencer(inf), rc)
	observability.PreviewsRendered.WithLabelValues("single").Inc()
	return &p, nil
}

// PreviewBatch renders a stored template for every connection. Connections
// whose influencer is missing, or whose rendering panics, are logged and
// left out of the result.
func (s *Service) PreviewBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: templateId is required", ErrInvalidRequest)
	}

	t, err := s.Template(ctx, req.TemplateID, req.UserID)
	if err != nil {
		return nil, err
	}
	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	influencers, err := s.store.GetInfluencers(ctx, influencerIDs(req.Connections))
	if err != nil {
		return nil, err
	}

	rc := render.Context{
		User:      user,
		Variables: mergeVariables(t.UserVariables, req.UserVariables),
		Rules:     s.rules(t.ID, t.ConditionalRules),
	}

	var (
		mu       sync.Mutex
		previews = make(map[string]Preview, len(req.Connections))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, conn := range req.Connections {
		conn := conn
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, ok := influencers[conn.InfluencerID]
			if !ok {
				log.Warn().Str("template_id", t.ID).Str("connection_id", conn.ID).
					Str("influencer_id", conn.InfluencerID).Msg("influencer not found; skipping")
				observability.BatchSkipped.WithLabelValues("influencer_not_found").Inc()
				return nil
			}
			p, ok := s.safeRender(t, toInfluencer(row), rc, conn)
			if !ok {
				return nil
			}
			mu.Lock()
			previews[conn.InfluencerID] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	observability.PreviewsRendered.WithLabelValues("batch").Add(float64(len(previews)))
	return &BatchResult{
		Previews: previews,
		TemplateInfo: TemplateInfo{
			ID:      t.ID,
			Name:    t.Name,
			Subject: t.Subject,
			Content: t.Content,
		},
		ProcessedCount: len(previews),
		TotalCount:     len(req.Connections),
	}, nil
}

func (s *Service) safeRender(t *storage.TemplateRow, inf render.Influencer, rc render.Context, conn Connection) (p Preview, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("template_id", t.ID).
				Str("influencer_id", conn.InfluencerID).Msg("render failed; skipping")
			observability.BatchSkipped.WithLabelValues("render_panic").Inc()
			ok = false
		}
	}()
	return s.render(t.Subject, t.Content, inf, rc), true
}

func (s *Service) render(subject, content string, inf render.Influencer, rc render.Context) Preview {
	rc.Influencer = &inf
	p := Preview{
		Subject:         s.renderer.Render(subject, rc),
		Content:         s.renderer.Render(content, rc),
		OriginalSubject: subject,
		OriginalContent: content,
		Influencer:      inf,
	}
	p.Unresolved = unresolved(p.Subject, p.Content)
	return p
}

// unresolved lists the placeholders left in subject and content, each text
// scanned on its own.
func unresolved(subject, content string) []string {
	out := render.Placeholders(subject)
	for _, name := range render.Placeholders(content) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Service) user(ctx context.Context, id string) (render.User, error) {
	if id == "" {
		return render.User{}, nil
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return render.User{}, err
	}
	return render.User{BrandName: u.BrandName, SenderName: u.SenderName, Email: u.Email}, nil
}

// rules parses stored rules. Bad rule JSON never fails a preview; the
// template renders as if it had no rules.
func (s *Service) rules(templateID string, data []byte) render.RuleSet {
	rs, err := render.ParseRules(data)
	if err != nil {
		log.Warn().Err(err).Str("template_id", templateID).Msg("ignoring conditional rules")
		observability.RequestErrors.WithLabelValues("bad_rules").Inc()
	}
	return rs
}

func toInfluencer(row *storage.InfluencerRow) render.Influencer {
	return render.Influencer{ID: row.ID, AccountID: row.AccountID, FieldData: row.FieldData}
}

func mergeVariables(stored, overlay map[string]any) render.Variables {
	out := make(render.Variables, len(stored)+len(overlay))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func influencerIDs(conns []Connection) []string {
	seen := make(map[string]struct{}, len(conns))
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		if _, ok := seen[c.InfluencerID]; ok || c.InfluencerID == "" {
			continue
		}
		seen[c.InfluencerID] = struct{}{}
		ids = append(ids, c.InfluencerID)
	}
	return ids
}
