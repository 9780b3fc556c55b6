package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Franck-BRT/BlackIA-sub003/internal/chunk"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// DefaultEmbedTimeout bounds the embedding calls of one representation.
const DefaultEmbedTimeout = 2 * time.Minute

// Document is the input of AddOrReindex.
type Document struct {
	AttachmentID string
	MimeType     string
	Name         string

	// Text is the extracted text. Empty means no text representation.
	Text string

	// PageImages are rendered page image paths, in page order.
	PageImages []string

	EntityType string
	EntityID   string

	// Mode selects the representations. Empty or auto uses RecommendMode.
	Mode search.Mode
}

// TextWriter is the text index as seen by the Manager.
type TextWriter interface {
	ReplaceAttachment(ctx context.Context, attachmentID string, chunks []store.TextChunk) error
	DeleteByAttachmentID(ctx context.Context, attachmentID string) (int, error)
}

// VisionWriter is the vision index as seen by the Manager.
type VisionWriter interface {
	ReplaceAttachment(ctx context.Context, attachmentID string, pages []store.VisionPage) error
	DeleteByAttachmentID(ctx context.Context, attachmentID string) (int, error)
}

// AttachmentRemover deletes both representations of an attachment in one
// transaction. store.Maintenance implements it.
type AttachmentRemover interface {
	DeleteAttachment(ctx context.Context, attachmentID string) (textDeleted, visionDeleted int, err error)
}

// Activity is notified of index writes. Compactor implements it.
type Activity interface {
	Touch()
	RecordDeleted(rows int)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Chunking      chunk.Options
	EmbedTimeout  time.Duration
	TextThreshold int
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Chunking:      chunk.DefaultOptions(),
		EmbedTimeout:  DefaultEmbedTimeout,
		TextThreshold: DefaultTextThreshold,
	}
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

// WithVision enables the vision path.
func WithVision(w VisionWriter, e embed.VisionEmbedder) ManagerOption {
	return func(m *Manager) {
		m.vision = w
		m.visionEmbedder = e
	}
}

// WithRemover makes Delete remove both representations through r in one
// transaction instead of one per index.
func WithRemover(r AttachmentRemover) ManagerOption {
	return func(m *Manager) { m.remover = r }
}

// WithStateStore persists states through s.
func WithStateStore(s StateStore) ManagerOption {
	return func(m *Manager) { m.stateStore = s }
}

// WithSink sends outcomes to s.
func WithSink(s OutcomeSink) ManagerOption {
	return func(m *Manager) { m.sink = s }
}

// WithActivity reports writes and deletions to a.
func WithActivity(a Activity) ManagerOption {
	return func(m *Manager) { m.activity = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns the indexing lifecycle of documents. At most one lifecycle
// operation runs per attachment id at a time.
type Manager struct {
	cfg     ManagerConfig
	chunker *chunk.WhitespaceChunker

	text         TextWriter
	textEmbedder embed.TextEmbedder

	vision         VisionWriter
	visionEmbedder embed.VisionEmbedder
	remover        AttachmentRemover

	stateStore StateStore
	sink       OutcomeSink
	activity   Activity
	logger     *slog.Logger

	locks  *KeyedMutex
	states *stateTable
}

// NewManager creates a Manager writing text chunks through text.
func NewManager(text TextWriter, embedder embed.TextEmbedder, cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if text == nil || embedder == nil {
		return nil, raerrors.ValidationError("manager requires a text index and a text embedder", nil)
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = DefaultTextThreshold
	}
	chunker, err := chunk.NewWhitespaceChunker(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		chunker:      chunker,
		text:         text,
		textEmbedder: embedder,
		logger:       slog.Default(),
		locks:        NewKeyedMutex(),
		states:       newStateTable(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LoadStates restores persisted states. Documents left Indexing by an
// interrupted process are marked Failed.
func (m *Manager) LoadStates(ctx context.Context) (int, error) {
	if m.stateStore == nil {
		return 0, nil
	}
	loaded, err := m.stateStore.LoadStates(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range loaded {
		if s.Status == StatusIndexing {
			s.Status = StatusFailed
			s.LastError = "indexing interrupted"
			m.persist(ctx, s)
		}
		m.states.put(s)
	}
	return len(loaded), nil
}

// AddOrReindex indexes doc, replacing whatever was indexed under its id.
// The text and vision paths run independently: a failure in one keeps the
// other's rows, and the state becomes Failed with LastError set.
//
// Each representation is swapped in one transaction once its embeddings are
// ready, so concurrent searches see the old rows or the new ones. A
// representation that fails, is skipped or is not requested ends up with no
// rows.
func (m *Manager) AddOrReindex(ctx context.Context, doc Document) (Outcome, error) {
	id := strings.TrimSpace(doc.AttachmentID)
	if id == "" {
		return Outcome{}, raerrors.ValidationError("attachment id is required", nil)
	}
	doc.AttachmentID = id

	unlock := m.locks.Lock(id)
	defer unlock()

	start := time.Now()
	jobID := uuid.NewString()
	mode := m.resolveMode(doc)
	wantText := mode == search.ModeText || mode == search.ModeHybrid
	wantVision := mode == search.ModeVision || mode == search.ModeHybrid

	logger := m.logger.With(slog.String("attachment_id", id), slog.String("job_id", jobID))
	logger.Debug("indexing_started", slog.String("mode", string(mode)), slog.String("mime", doc.MimeType))

	st := State{
		AttachmentID: id,
		Status:       StatusIndexing,
		Mode:         string(mode),
		JobID:        jobID,
	}
	prev, _ := m.states.get(id)
	st.LastIndexedAt = prev.LastIndexedAt
	m.states.put(st)
	m.persist(ctx, st)
	m.touch()

	skipVision := wantVision && !m.canIndexVision(doc)
	if skipVision {
		logger.Debug("vision_skipped", slog.String("mime", doc.MimeType), slog.Int("pages", len(doc.PageImages)))
		st.VisionSkipped = true
		wantVision = false
	}

	var (
		g                  errgroup.Group
		textErr, visionErr error
		chunks, pages      int
		patches            int
	)
	if wantText {
		g.Go(func() error {
			chunks, textErr = m.indexText(ctx, doc)
			return nil
		})
	}
	if wantVision {
		g.Go(func() error {
			pages, patches, visionErr = m.indexVision(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	// Leftover rows of a failed, skipped or unrequested representation are
	// cleared even when the caller has gone away, so rows match the state.
	cleanupCtx := context.WithoutCancel(ctx)
	var cleanupErrs []error
	if !wantText || textErr != nil {
		cleanupErrs = append(cleanupErrs, m.clearText(cleanupCtx, id))
	}
	if m.vision != nil && (!wantVision || visionErr != nil) {
		cleanupErrs = append(cleanupErrs, m.clearVision(cleanupCtx, id))
	}
	// Rows swapped out by a successful replace count as deleted.
	if wantText && textErr == nil {
		m.recordDeleted(prev.TextChunkCount)
		st.TextIndexed = true
		st.TextChunkCount = chunks
	}
	if wantVision && visionErr == nil {
		m.recordDeleted(prev.PageCount)
		st.VisionIndexed = true
		st.PageCount = pages
		st.VisionPatchCount = patches
	}
	if textErr != nil {
		logger.Warn("text_indexing_failed", raerrors.LogAttrs(textErr)...)
	}
	if visionErr != nil {
		logger.Warn("vision_indexing_failed", raerrors.LogAttrs(visionErr)...)
	}
	return m.finish(ctx, st, start, errors.Join(append([]error{textErr, visionErr}, cleanupErrs...)...))
}

// finish records the final state and emits the outcome.
func (m *Manager) finish(ctx context.Context, st State, start time.Time, err error) (Outcome, error) {
	st.LastDuration = time.Since(start)
	if err != nil {
		st.Status = StatusFailed
		st.LastError = err.Error()
	} else {
		st.Status = StatusIndexed
		st.LastError = ""
		st.LastIndexedAt = time.Now()
	}
	m.states.put(st)
	m.persist(ctx, st)

	out := Outcome{
		JobID:         st.JobID,
		AttachmentID:  st.AttachmentID,
		Status:        st.Status,
		ChunkCount:    st.TextChunkCount,
		PatchCount:    st.VisionPatchCount,
		PageCount:     st.PageCount,
		VisionSkipped: st.VisionSkipped,
		Duration:      st.LastDuration,
		Err:           err,
	}
	m.emit(ctx, out)
	return out, err
}

// Delete removes the document from both indexes. Deleting an id that was
// never indexed succeeds.
func (m *Manager) Delete(ctx context.Context, attachmentID string) error {
	id := strings.TrimSpace(attachmentID)
	if id == "" {
		return raerrors.ValidationError("attachment id is required", nil)
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	start := time.Now()
	if err := m.deleteAll(ctx, id); err != nil {
		return err
	}

	m.states.remove(id)
	if m.stateStore != nil {
		if err := m.stateStore.DeleteState(ctx, id); err != nil {
			m.logger.Warn("failed to delete indexing state",
				slog.String("attachment_id", id), slog.String("error", err.Error()))
		}
	}
	m.emit(ctx, Outcome{
		JobID:        uuid.NewString(),
		AttachmentID: id,
		Status:       StatusUnindexed,
		Duration:     time.Since(start),
	})
	return nil
}

// State returns the state of attachmentID. Unknown ids report Unindexed
// and false.
func (m *Manager) State(attachmentID string) (State, bool) {
	if s, ok := m.states.get(attachmentID); ok {
		return s, true
	}
	return State{AttachmentID: attachmentID, Status: StatusUnindexed}, false
}

// States returns every known state sorted by attachment id.
func (m *Manager) States() []State {
	return m.states.snapshot()
}

// deleteAll removes both representations of id, in one transaction when a
// remover is configured.
func (m *Manager) deleteAll(ctx context.Context, id string) error {
	if m.remover != nil {
		textRows, visionRows, err := m.remover.DeleteAttachment(ctx, id)
		if err != nil {
			return err
		}
		m.recordDeleted(textRows + visionRows)
		return nil
	}
	if err := m.clearText(ctx, id); err != nil {
		return err
	}
	if m.vision == nil {
		return nil
	}
	return m.clearVision(ctx, id)
}

func (m *Manager) clearText(ctx context.Context, id string) error {
	n, err := m.text.DeleteByAttachmentID(ctx, id)
	m.recordDeleted(n)
	return err
}

func (m *Manager) clearVision(ctx context.Context, id string) error {
	n, err := m.vision.DeleteByAttachmentID(ctx, id)
	m.recordDeleted(n)
	return err
}

// recordDeleted reports rows removed or replaced to the compactor.
func (m *Manager) recordDeleted(rows int) {
	if rows > 0 && m.activity != nil {
		m.activity.RecordDeleted(rows)
	}
}

func (m *Manager) resolveMode(doc Document) search.Mode {
	switch doc.Mode {
	case search.ModeText, search.ModeVision, search.ModeHybrid:
		return doc.Mode
	default:
		return RecommendMode(doc.MimeType, doc.Text, m.cfg.TextThreshold)
	}
}

func (m *Manager) canIndexVision(doc Document) bool {
	return m.vision != nil && m.visionEmbedder != nil &&
		len(doc.PageImages) > 0 && SupportsVision(doc.MimeType)
}

// indexText chunks, embeds and stores doc's text.
func (m *Manager) indexText(ctx context.Context, doc Document) (int, error) {
	drafts, err := m.chunker.Chunk(doc.Text)
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, m.text.ReplaceAttachment(ctx, doc.AttachmentID, nil)
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, m.cfg.EmbedTimeout)
	defer cancel()
	vectors, err := m.textEmbedder.EmbedBatch(embedCtx, texts)
	if err != nil {
		return 0, m.embedError(ctx, embedCtx, "text", err)
	}
	if len(vectors) != len(drafts) {
		return 0, raerrors.New(raerrors.ErrCodeBackendResponse,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(drafts)), nil)
	}

	model := m.textEmbedder.ModelName()
	now := time.Now()
	chunks := make([]store.TextChunk, len(drafts))
	for i, d := range drafts {
		chunks[i] = store.TextChunk{
			ID:           store.ChunkID(doc.AttachmentID, d.Index),
			AttachmentID: doc.AttachmentID,
			ChunkIndex:   d.Index,
			Text:         d.Text,
			Vector:       vectors[i],
			EntityType:   doc.EntityType,
			EntityID:     doc.EntityID,
			Metadata: store.ChunkMetadata{
				DocumentName: doc.Name,
				Model:        model,
				LineStart:    d.LineStart,
				LineEnd:      d.LineEnd,
				TokenStart:   d.TokenStart,
				TokenEnd:     d.TokenEnd,
				Paragraph:    d.Paragraph,
			},
			CreatedAt: now,
		}
	}
	if err := m.text.ReplaceAttachment(ctx, doc.AttachmentID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// indexVision embeds and stores doc's page images.
func (m *Manager) indexVision(ctx context.Context, doc Document) (int, int, error) {
	embedCtx, cancel := context.WithTimeout(ctx, m.cfg.EmbedTimeout)
	defer cancel()
	patchSets, err := m.visionEmbedder.EmbedPages(embedCtx, doc.PageImages)
	if err != nil {
		return 0, 0, m.embedError(ctx, embedCtx, "vision", err)
	}
	if len(patchSets) != len(doc.PageImages) {
		return 0, 0, raerrors.New(raerrors.ErrCodeBackendResponse,
			fmt.Sprintf("vision embedder returned %d pages for %d images", len(patchSets), len(doc.PageImages)), nil)
	}

	model := m.visionEmbedder.ModelName()
	now := time.Now()
	pages := make([]store.VisionPage, len(patchSets))
	total := 0
	for i, patches := range patchSets {
		dim := 0
		if len(patches) > 0 {
			dim = len(patches[0])
		}
		total += len(patches)
		pages[i] = store.VisionPage{
			ID:           store.PageID(doc.AttachmentID, i),
			AttachmentID: doc.AttachmentID,
			PageIndex:    i,
			Patches:      patches,
			EntityType:   doc.EntityType,
			EntityID:     doc.EntityID,
			Metadata: store.PageMetadata{
				DocumentName: doc.Name,
				Model:        model,
				PageNumber:   i + 1,
				NumPatches:   len(patches),
				EmbeddingDim: dim,
				ImagePath:    doc.PageImages[i],
			},
			CreatedAt: now,
		}
	}
	if err := m.vision.ReplaceAttachment(ctx, doc.AttachmentID, pages); err != nil {
		return 0, 0, err
	}
	return len(pages), total, nil
}

// embedError maps an expired embed deadline to IndexingTimeout. A cancelled
// caller context is returned as is.
func (m *Manager) embedError(parent, embedCtx context.Context, path string, err error) error {
	if parent.Err() == nil && errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
		return raerrors.IndexingTimeout(
			fmt.Sprintf("%s embedding exceeded %s", path, m.cfg.EmbedTimeout), err)
	}
	return err
}

func (m *Manager) persist(ctx context.Context, st State) {
	if m.stateStore == nil {
		return
	}
	if err := m.stateStore.SaveState(context.WithoutCancel(ctx), st); err != nil {
		m.logger.Warn("failed to persist indexing state",
			slog.String("attachment_id", st.AttachmentID), slog.String("error", err.Error()))
	}
}

func (m *Manager) emit(ctx context.Context, o Outcome) {
	if m.sink != nil {
		m.sink.Emit(ctx, o)
	}
}

func (m *Manager) touch() {
	if m.activity != nil {
		m.activity.Touch()
	}
}
