package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/store"
)

// Refusal is the canned answer when retrieval finds nothing.
const Refusal = "I don't have enough information in the indexed documents to answer this question."

// DefaultMemoryK is how many prior session messages are replayed.
const DefaultMemoryK = 6

// ChatSource yields the currently active chat client; the model registry
// satisfies this.
type ChatSource interface {
	Chat() model.ChatClient
}

// Source identifies one cited chunk in a response.
type Source struct {
	ChunkID    int64   `json:"chunk_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	FusedScore float64 `json:"fused_score"`
}

// Debug summarizes the retrieval and citation outcome behind a response.
type Debug struct {
	BM25Hits          int     `json:"bm25_hits"`
	VecHits           int     `json:"vec_hits"`
	Fused             int     `json:"fused"`
	DimensionMismatch bool    `json:"dimension_mismatch"`
	VectorError       string  `json:"vector_error,omitempty"`
	RetrievalMS       float64 `json:"retrieval_ms"`
	CitationOK        bool    `json:"citation_ok"`
	CitationReport    *Report `json:"citation_report"`
}

// Response is a complete answer with provenance.
type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Debug   Debug    `json:"debug"`
}

// Opts tune one answer call. Zero values (nil for the pointers) use the
// assembler defaults.
type Opts struct {
	TopK    int
	KLex    int
	KVec    int
	Mode    store.QueryMode
	MemoryK *int

	MinUnique           int
	RequirePerParagraph *bool
	RewriteOnFail       *bool
}

// Settings are the assembler-level defaults; Opts override them per call.
type Settings struct {
	MemoryK             int
	MinUnique           int
	RequirePerParagraph bool
	RewriteOnFail       bool
}

// DefaultSettings returns the stock enforcement contract.
func DefaultSettings() Settings {
	return Settings{
		MemoryK:             DefaultMemoryK,
		MinUnique:           1,
		RequirePerParagraph: true,
		RewriteOnFail:       true,
	}
}

// Assembler produces grounded answers: retrieve, prompt, generate, clean,
// validate, repair.
type Assembler struct {
	store     *store.Store
	retriever *search.Retriever
	chat      ChatSource
	cleaner   *Cleaner
	settings  Settings
	log       *slog.Logger
}

// NewAssembler wires an assembler. settings.MemoryK < 0 uses the default;
// settings.MinUnique <= 0 keeps the stock minimum of one.
func NewAssembler(st *store.Store, retriever *search.Retriever, chat ChatSource, cleaner *Cleaner, settings Settings) *Assembler {
	if settings.MemoryK < 0 {
		settings.MemoryK = DefaultMemoryK
	}
	if settings.MinUnique <= 0 {
		settings.MinUnique = 1
	}
	if cleaner == nil {
		cleaner = NewCleaner(nil)
	}
	return &Assembler{
		store:     st,
		retriever: retriever,
		chat:      chat,
		cleaner:   cleaner,
		settings:  settings,
		log:       slog.With("component", "answer"),
	}
}

// Answer runs the full question-answering flow for one session turn.
func (a *Assembler) Answer(ctx context.Context, sessionID, question string, opts Opts) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ragerr.New(ragerr.ErrCodeEmptyQuestion, "question must not be empty", nil)
	}
	if sessionID == "" {
		sessionID = "default"
	}

	policy := Policy{
		MinUnique:           a.settings.MinUnique,
		RequirePerParagraph: a.settings.RequirePerParagraph,
	}
	if opts.MinUnique > 0 {
		policy.MinUnique = opts.MinUnique
	}
	if opts.RequirePerParagraph != nil {
		policy.RequirePerParagraph = *opts.RequirePerParagraph
	}
	rewrite := a.settings.RewriteOnFail
	if opts.RewriteOnFail != nil {
		rewrite = *opts.RewriteOnFail
	}
	memoryK := a.settings.MemoryK
	if opts.MemoryK != nil && *opts.MemoryK >= 0 {
		memoryK = *opts.MemoryK
	}

	if err := a.store.AppendMessage(ctx, sessionID, model.RoleUser, question); err != nil {
		return nil, err
	}

	retrieval, err := a.retriever.Retrieve(ctx, question, search.Options{
		KLex:   opts.KLex,
		KVec:   opts.KVec,
		FinalK: opts.TopK,
		Mode:   opts.Mode,
	})
	if err != nil {
		return nil, err
	}

	debug := Debug{
		BM25Hits:          len(retrieval.Lexical),
		VecHits:           len(retrieval.Vector),
		Fused:             len(retrieval.Hits),
		DimensionMismatch: retrieval.DimensionMismatch,
		VectorError:       retrieval.VectorError,
		RetrievalMS:       retrieval.Timings.TotalMS,
	}

	if len(retrieval.Hits) == 0 {
		if err := a.store.AppendMessage(ctx, sessionID, model.RoleAssistant, Refusal); err != nil {
			return nil, err
		}
		debug.CitationOK = true
		debug.CitationReport = &Report{Valid: true, Reason: "no retrieved chunks"}
		return &Response{
			Answer:  Refusal,
			Sources: []Source{},
			Debug:   debug,
		}, nil
	}

	allowedIDs := make([]int64, len(retrieval.Hits))
	citeTokens := make([]string, len(retrieval.Hits))
	for i, hit := range retrieval.Hits {
		allowedIDs[i] = hit.ChunkID
		citeTokens[i] = fmt.Sprintf("[Source: %s | cid:%d]", hit.Filename, hit.ChunkID)
	}

	messages, err := a.buildMessages(ctx, sessionID, question, retrieval.Hits, allowedIDs, memoryK)
	if err != nil {
		return nil, err
	}

	raw, err := a.chat.Chat().Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	text := a.cleaner.Clean(raw)
	text, report := a.repairCitations(text, allowedIDs, citeTokens, policy, rewrite)

	if err := a.store.AppendMessage(ctx, sessionID, model.RoleAssistant, text); err != nil {
		return nil, err
	}

	sources := make([]Source, len(retrieval.Hits))
	for i, hit := range retrieval.Hits {
		sources[i] = Source{
			ChunkID:    hit.ChunkID,
			Filename:   hit.Filename,
			ChunkIndex: hit.ChunkIndex,
			FusedScore: hit.Score,
		}
	}

	a.log.Info("answer_complete",
		slog.String("session_id", sessionID),
		slog.Int("sources", len(sources)),
		slog.Bool("citations_valid", report.Valid))

	debug.CitationOK = report.Valid
	debug.CitationReport = report
	return &Response{
		Answer:  text,
		Sources: sources,
		Debug:   debug,
	}, nil
}

// buildMessages assembles system prompt, replayed history, and the user
// turn carrying the retrieved context.
func (a *Assembler) buildMessages(ctx context.Context, sessionID, question string, hits []*search.Hit, allowedIDs []int64, memoryK int) ([]model.Message, error) {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt(allowedIDs)},
	}

	if memoryK > 0 {
		history, err := a.store.RecentMessages(ctx, sessionID, memoryK)
		if err != nil {
			return nil, err
		}
		for _, msg := range history {
			messages = append(messages, model.Message{Role: msg.Role, Content: msg.Content})
		}
	}

	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("Question: %s\n\nSource Documents:\n%s", question, formatContext(hits)),
	})
	return messages, nil
}

// formatContext renders retrieved chunks with their citation ids.
func formatContext(hits []*search.Hit) string {
	parts := make([]string, len(hits))
	for i, hit := range hits {
		parts[i] = fmt.Sprintf("[cid:%d] from %s:\n%s", hit.ChunkID, hit.Filename, strings.TrimSpace(hit.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func systemPrompt(allowedIDs []int64) string {
	ids := make([]string, len(allowedIDs))
	for i, id := range allowedIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}

	return fmt.Sprintf(`You are a research assistant. Your task is to answer questions using ONLY the provided source documents.

RESPONSE FORMAT:
- Write 2 to 3 concise paragraphs that directly answer the question
- End each paragraph with a citation: [Source: filename | cid:NUMBER]
- Use ONLY these citation IDs: %s

STRICT RULES:
- Start your answer immediately with the content. No introductions.
- Do NOT write phrases like "Here's the answer" or "Based on the context" or "Okay, here's"
- Do NOT copy author names, email addresses, or institutional affiliations
- Do NOT include bibliography entries or reference lists
- SYNTHESIZE information in your own words, do not copy chunks verbatim
- If you cannot answer from the sources, say "%s"

Your response should read like a well-written encyclopedia entry, not a collection of copied text.`,
		strings.Join(ids, ", "), Refusal)
}

// repairCitations validates and, when rewrite is set, deterministically
// repairs an answer: paragraphs without a citation get one appended in
// round-robin order, then any token carrying an id outside the allowed
// set is rewritten to the first token.
func (a *Assembler) repairCitations(text string, allowedIDs []int64, citeTokens []string, policy Policy, rewrite bool) (string, *Report) {
	report := ValidateCitations(text, allowedIDs, policy)
	if report.Valid || !rewrite || len(citeTokens) == 0 {
		return text, report
	}

	if policy.RequirePerParagraph && len(report.MissingParagraphs) > 0 {
		text = injectCitations(text, citeTokens, report.MissingParagraphs)
		report = ValidateCitations(text, allowedIDs, policy)
	}

	if !report.Valid && len(report.InvalidIDs) > 0 {
		for _, invalid := range report.InvalidIDs {
			text = rewriteCitation(text, invalid, citeTokens[0])
		}
		report = ValidateCitations(text, allowedIDs, policy)
	}

	return text, report
}

// injectCitations appends a citation token to each listed paragraph,
// cycling through the tokens by paragraph index.
func injectCitations(text string, citeTokens []string, missing []int) string {
	paragraphs := SplitParagraphs(text)
	for _, idx := range missing {
		if idx < len(paragraphs) {
			token := citeTokens[idx%len(citeTokens)]
			paragraphs[idx] = strings.TrimRight(paragraphs[idx], " \t") + " " + token
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// rewriteCitation replaces every token carrying the invalid id, in either
// grammar, with the replacement token.
func rewriteCitation(text string, invalidID int64, replacement string) string {
	sourceForm := regexp.MustCompile(fmt.Sprintf(`\[Source:[^\]]*\bcid:%d\b[^\]]*\]`, invalidID))
	simpleForm := regexp.MustCompile(fmt.Sprintf(`\[cid:%d\]`, invalidID))
	text = sourceForm.ReplaceAllString(text, replacement)
	return simpleForm.ReplaceAllString(text, replacement)
}
