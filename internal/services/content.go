package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// ContentStatus is the content service's workflow status.
type ContentStatus string

const (
	ContentQueued       ContentStatus = "queued"
	ContentInitializing ContentStatus = "initializing"
	ContentAnalyzing    ContentStatus = "analyzing"
	ContentGenerating   ContentStatus = "generating"
	ContentOptimizing   ContentStatus = "optimizing"
	ContentFinalizing   ContentStatus = "finalizing"
	ContentCompleted    ContentStatus = "completed"
	ContentFailed       ContentStatus = "failed"
	ContentTimedOut     ContentStatus = "timeout"
)

// Terminal reports whether polling should stop.
func (s ContentStatus) Terminal() bool { return s == ContentCompleted || s == ContentFailed }

// PageContent is generated copy for one page.
type PageContent struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	SEOTitle        string   `json:"seo_title,omitempty"`
	Slug            string   `json:"slug,omitempty"`
}

// GeneratedContent is the content service's output.
type GeneratedContent struct {
	Homepage  *PageContent           `json:"homepage,omitempty"`
	About     *PageContent           `json:"about,omitempty"`
	Services  []PageContent          `json:"services,omitempty"`
	Contact   *PageContent           `json:"contact,omitempty"`
	BlogPosts []PageContent          `json:"blog_posts,omitempty"`
	Pages     map[string]PageContent `json:"pages,omitempty"`
	SEO       map[string]any         `json:"seo,omitempty"`
}

// ForPage returns copy for a static page key.
func (g *GeneratedContent) ForPage(key string) (PageContent, bool) {
	if g == nil {
		return PageContent{}, false
	}
	var p *PageContent
	switch key {
	case "home":
		p = g.Homepage
	case "about":
		p = g.About
	case "contact":
		p = g.Contact
	}
	if p != nil {
		return *p, true
	}
	pc, ok := g.Pages[key]
	return pc, ok
}

// ForService returns copy for a service page, matched by slug, then title.
func (g *GeneratedContent) ForService(slug, name string) (PageContent, bool) {
	if g == nil {
		return PageContent{}, false
	}
	for _, s := range g.Services {
		if s.Slug == slug || strings.EqualFold(s.Title, name) {
			return s, true
		}
	}
	return PageContent{}, false
}

// ForPost returns copy for the i-th blog post stub, matched by slug first.
func (g *GeneratedContent) ForPost(i int, slug string) (PageContent, bool) {
	if g == nil {
		return PageContent{}, false
	}
	for _, p := range g.BlogPosts {
		if p.Slug != "" && p.Slug == slug {
			return p, true
		}
	}
	if i >= 0 && i < len(g.BlogPosts) && g.BlogPosts[i].Slug == "" {
		return g.BlogPosts[i], true
	}
	return PageContent{}, false
}

// ContentRequest is submitted to start generation.
type ContentRequest struct {
	ProjectID  string         `json:"projectId"`
	UserID     string         `json:"userId"`
	WizardData wizard.Data    `json:"wizardData"`
	Options    map[string]any `json:"options,omitempty"`
}

// ContentProgress is forwarded to the caller while polling.
type ContentProgress struct {
	Status      ContentStatus
	Progress    int
	CurrentStep string
}

// ContentResult is the outcome of a generation run.
type ContentResult struct {
	Content *GeneratedContent
	Status  ContentStatus
	Error   string
}

// Content service endpoints, relative to the base URL.
const (
	contentStartPath  = "/api/v1/content/generate-content"
	contentStatusPath = "/api/v1/content/status/"
	contentResultPath = "/api/v1/content/result/"
)

// The content service has shipped both camelCase and snake_case payloads.
type startResponse struct {
	GenerationID      string `json:"generationId"`
	GenerationIDSnake string `json:"generation_id"`
}

func (r startResponse) id() string {
	if r.GenerationID != "" {
		return r.GenerationID
	}
	return r.GenerationIDSnake
}

type statusResponse struct {
	Status           ContentStatus     `json:"status"`
	Progress         float64           `json:"progress"`
	CurrentStep      string            `json:"currentStep"`
	CurrentStepSnake string            `json:"current_step"`
	Content          *GeneratedContent `json:"content,omitempty"`
	Pages            *GeneratedContent `json:"pages,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// percent accepts either a 0-1 fraction or a 0-100 percentage.
func (r statusResponse) percent() int {
	p := r.Progress
	if p > 0 && p <= 1 {
		p *= 100
	}
	return clampPercent(int(p + 0.5))
}

func (r statusResponse) step() string {
	if r.CurrentStep != "" {
		return r.CurrentStep
	}
	return r.CurrentStepSnake
}

func (r statusResponse) content() *GeneratedContent {
	if r.Content != nil {
		return r.Content
	}
	return r.Pages
}

func (r statusResponse) failure() string {
	msgs := append([]string(nil), r.Errors...)
	if r.Error != "" {
		msgs = append(msgs, r.Error)
	}
	if len(msgs) == 0 {
		return "unknown error"
	}
	return strings.Join(msgs, "; ")
}

// RequestContentGeneration starts a generation and polls its status, first
// right away and then every poll interval, until a terminal status or the
// attempt ceiling. The whole poll phase, including slow status calls, is
// bounded by attempts x interval. Poll failures are transient and consume one
// attempt. Running out of attempts or time is a Timeout error; a failed status
// is an ExternalService error. ctx cancellation stops the loop immediately.
func (c *Client) RequestContentGeneration(ctx context.Context, req ContentRequest, progress func(ContentProgress)) (*ContentResult, error) {
	if c.contentBaseURL == "" {
		return nil, derrors.ConfigError("content service base_url is not configured").Build()
	}
	startURL := c.contentBaseURL + contentStartPath

	startCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	var started startResponse
	err := c.call(startCtx, ServiceContent, http.MethodPost, startURL, req, &started)
	cancel()
	if err != nil {
		return nil, classify(err, "failed to start content generation")
	}
	genID := started.id()
	if genID == "" {
		return nil, derrors.ExternalServiceError("content service returned no generation id").
			WithContext("endpoint", startURL).Build()
	}
	slog.Info("Content generation started", logfields.ProjectID(req.ProjectID), "generation_id", genID)

	statusURL := c.contentBaseURL + contentStatusPath + genID
	ceiling := time.Duration(c.maxPollAttempts) * c.pollInterval
	begin := time.Now()
	pollCtx, cancelPolls := context.WithTimeout(ctx, ceiling)
	defer cancelPolls()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	polls := 0
	for polls < c.maxPollAttempts {
		if polls > 0 {
			select {
			case <-pollCtx.Done():
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if pollCtx.Err() != nil {
			break
		}
		polls++

		callCtx, cancel := context.WithTimeout(pollCtx, c.requestTimeout)
		var st statusResponse
		err := c.call(callCtx, ServiceContent, http.MethodGet, statusURL, nil, &st)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			slog.Warn("Content status poll failed",
				logfields.ProjectID(req.ProjectID), logfields.Attempt(polls), logfields.Error(err))
			continue
		}
		if progress != nil {
			progress(ContentProgress{Status: st.Status, Progress: st.percent(), CurrentStep: st.step()})
		}
		switch st.Status {
		case ContentCompleted:
			content := st.content()
			if content == nil {
				if content, err = c.fetchResult(ctx, genID); err != nil {
					return nil, err
				}
			}
			return &ContentResult{Content: content, Status: ContentCompleted}, nil
		case ContentFailed:
			msg := st.failure()
			return &ContentResult{Status: ContentFailed, Error: msg},
				derrors.ExternalServiceError("content generation failed: "+msg).
					WithContext("generation_id", genID).Build()
		}
	}

	elapsed := time.Since(begin).Round(time.Millisecond)
	msg := fmt.Sprintf("content generation timed out after %d polls in %s (ceiling %s)", polls, elapsed, ceiling)
	b := derrors.TimeoutError(msg).WithContext("generation_id", genID)
	if lastErr != nil {
		b = b.WithCause(lastErr)
	}
	return &ContentResult{Status: ContentTimedOut, Error: msg}, b.Build()
}

// fetchResult loads the finished content when the status payload omits it.
func (c *Client) fetchResult(ctx context.Context, genID string) (*GeneratedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	var res statusResponse
	if err := c.call(ctx, ServiceContent, http.MethodGet, c.contentBaseURL+contentResultPath+genID, nil, &res); err != nil {
		return nil, classify(err, "failed to fetch generated content")
	}
	if content := res.content(); content != nil {
		return content, nil
	}
	return nil, derrors.ExternalServiceError("content generation completed without content").
		WithContext("generation_id", genID).Build()
}

func clampPercent(p int) int { return min(max(p, 0), 100) }
