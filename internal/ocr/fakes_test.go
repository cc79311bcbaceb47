package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/store"
)

type fakePublisher struct {
	mu     sync.Mutex
	starts []models.StartMessage
	err    error
}

func (p *fakePublisher) PublishJobStart(_ context.Context, msg models.StartMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.starts = append(p.starts, msg)
	return nil
}

func (p *fakePublisher) PublishJobResult(context.Context, string, models.ResultEnvelope) error {
	return nil
}

func (p *fakePublisher) Name() string { return "fake" }
func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}

type sent struct {
	chatID  string
	text    string
	buttons []chat.Button
}

type edit struct {
	chatID, messageID, text string
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sent
	edits    []edit
	answered []string
	files    map[string][]byte
	sendErr  error
	nextID   int
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID, text string, buttons []chat.Button) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sent{chatID: chatID, text: text, buttons: buttons})
	return strconv.Itoa(f.nextID), nil
}

func (f *fakeTransport) EditMessage(_ context.Context, chatID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTransport) DownloadFile(_ context.Context, fileID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[fileID]
	if !ok {
		return nil, "", errors.New("file not found")
	}
	return data, "image/png", nil
}

func (f *fakeTransport) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBlob) Upload(_ context.Context, key string, data []byte, contentType string) (models.StorageRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return models.StorageRef{Bucket: "ocr-images", Path: key, ContentType: &contentType}, nil
}

func (b *fakeBlob) SignedURL(_ context.Context, ref models.StorageRef, ttl time.Duration) (string, time.Time, error) {
	return "https://blob.example/" + ref.Bucket + "/" + ref.Path, fixedNow.Add(ttl), nil
}

var (
	fixedNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	ict      = time.FixedZone("ICT", 7*60*60)
)

type harness struct {
	svc   *Service
	store *store.MemoryStore
	pub   *fakePublisher
	chat  *fakeTransport
	blob  *fakeBlob
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemoryStore(),
		pub:   &fakePublisher{},
		chat:  &fakeTransport{files: map[string][]byte{}},
		blob:  &fakeBlob{},
	}
	opts := Options{
		Store:        h.store,
		Publisher:    h.pub,
		Chat:         h.chat,
		Blob:         h.blob,
		Formatter:    NewFormatter("en"),
		MaxAttempts:  2,
		SignedURLTTL: time.Hour,
		UploadFolder: "images",
		MaxImageDim:  64,
		LedgerLoc:    ict,
		Now:          func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.svc = NewService(opts)
	return h
}

func (h *harness) createJob(t *testing.T, key string) models.Job {
	t.Helper()
	job, created, err := h.svc.CreateJob(context.Background(), CreateJobInput{
		IdempotencyKey: key,
		ChatID:         "100",
		UserID:         "200",
		Storage:        models.StorageRef{Bucket: "ocr-images", Path: "images/" + key + ".jpg"},
	})
	require.NoError(t, err)
	require.True(t, created)
	return job
}

// needConfirm drives a fresh job through a success callback.
func (h *harness) needConfirm(t *testing.T, key, result string) models.Job {
	t.Helper()
	job := h.createJob(t, key)
	_, err := h.svc.HandleResult(context.Background(), job.ID, models.ResultEnvelope{
		ResultJSON: []byte(result),
		Provider:   "gemini",
		Model:      "flash",
	})
	require.NoError(t, err)
	job, err = h.store.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusNeedConfirm, job.Status)
	return job
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func photoMessage(userID int64, uniqueID string) *chat.Message {
	return &chat.Message{
		MessageID: 1,
		From:      &chat.User{ID: userID},
		Chat:      chat.Chat{ID: userID},
		Photo: []chat.PhotoSize{
			{FileID: "thumb-" + uniqueID, FileUniqueID: uniqueID + "-small", Width: 90, Height: 60},
			{FileID: "file-" + uniqueID, FileUniqueID: uniqueID, Width: 1280, Height: 853},
		},
	}
}

func depositJSON(amount float64) string {
	return `{"type":"deposit","amount":` + strconv.FormatFloat(amount, 'f', -1, 64) + `,"currency":"VND","confidence":0.92}`
}

var errTransientDB = errors.New("transient db error")

// flakyStore fails the next MarkFailed once.
type flakyStore struct {
	*store.MemoryStore

	mu             sync.Mutex
	failMarkFailed bool
}

func (f *flakyStore) MarkFailed(ctx context.Context, id string, lastError string) (models.Job, error) {
	f.mu.Lock()
	fail := f.failMarkFailed
	f.failMarkFailed = false
	f.mu.Unlock()
	if fail {
		return models.Job{}, errTransientDB
	}
	return f.MemoryStore.MarkFailed(ctx, id, lastError)
}

// ledgerHookStore runs onUpsert before each certificate upsert.
type ledgerHookStore struct {
	*store.MemoryStore
	onUpsert func()
}

func (s *ledgerHookStore) UpsertCertificate(ctx context.Context, c models.CertificateTransaction) (models.CertificateTransaction, error) {
	if s.onUpsert != nil {
		s.onUpsert()
	}
	return s.MemoryStore.UpsertCertificate(ctx, c)
}
