package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// 内存版 DocumentStore，模拟外部存储协作方
type fakeDoc struct {
	content string
	version uint64
}

type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]*fakeDoc
	failNext error // 下一次调用直接报错（模拟存储抖动）
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]*fakeDoc)}
}

func (s *fakeDocStore) put(docID, content string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = &fakeDoc{content: content, version: version}
}

func (s *fakeDocStore) takeErr() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *fakeDocStore) GetVersion(ctx context.Context, docID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return 0, err
	}
	d := s.docs[docID]
	if d == nil {
		return 0, nil
	}
	return d.version, nil
}

func (s *fakeDocStore) GetContent(ctx context.Context, docID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return "", err
	}
	d := s.docs[docID]
	if d == nil {
		return "", nil
	}
	return d.content, nil
}

func (s *fakeDocStore) ApplyMutation(ctx context.Context, docID string, newContent string, newVersion uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return false, err
	}
	d := s.docs[docID]
	if d == nil {
		return false, nil
	}
	d.content = newContent
	d.version = newVersion
	return true, nil
}

type fakeEditStore struct {
	mu         sync.Mutex
	recs       []EditRecord
	nextID     uint64
	failAppend error
	failMark   error // 下一次 MarkApplied 报错（只生效一次）
}

func newFakeEditStore() *fakeEditStore {
	return &fakeEditStore{}
}

func (s *fakeEditStore) AppendEdit(ctx context.Context, rec EditRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		err := s.failAppend
		s.failAppend = nil
		return 0, err
	}
	s.nextID++
	rec.ID = s.nextID
	s.recs = append(s.recs, rec)
	return rec.ID, nil
}

func (s *fakeEditStore) MarkApplied(ctx context.Context, editID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark != nil {
		err := s.failMark
		s.failMark = nil
		return err
	}
	for i := range s.recs {
		if s.recs[i].ID == editID {
			s.recs[i].Applied = true
			return nil
		}
	}
	return fmt.Errorf("edit %d not found", editID)
}

func (s *fakeEditStore) ListAppliedEdits(ctx context.Context, docID string) ([]EditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EditRecord
	for _, r := range s.recs {
		if r.DocID == docID && r.Applied {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestEngine() (*Engine, *fakeDocStore, *fakeEditStore) {
	docs := newFakeDocStore()
	edits := newFakeEditStore()
	return NewEngine(docs, edits, nil), docs, edits
}

func TestEngine_SubmitAppliesAndBumpsVersion(t *testing.T) {
	eng, docs, _ := newTestEngine()
	docs.put("d1", "hello", 5)

	applied, err := eng.Submit(context.Background(), "d1", 7, "alice", EditRequest{
		Op:            OpInsert,
		Position:      5,
		Content:       " world",
		ClientVersion: 5,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if applied.Version != 6 {
		t.Fatalf("Version = %d, want 6", applied.Version)
	}
	if applied.Position != 5 {
		t.Fatalf("Position = %d, want 5 (no resolution needed)", applied.Position)
	}
	if got := docs.docs["d1"].content; got != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}
}

func TestEngine_StaleEditGetsResolved(t *testing.T) {
	eng, docs, _ := newTestEngine()
	docs.put("d1", "hello", 3)

	refTime := time.Now().Add(-time.Second) // A 的参考点早于 B 的落库时间

	// B 先到：insert "XY" at 2，基于 version 3 → version 4
	if _, err := eng.Submit(context.Background(), "d1", 2, "bob", EditRequest{
		Op:            OpInsert,
		Position:      2,
		Content:       "XY",
		ClientVersion: 3,
	}); err != nil {
		t.Fatalf("Submit(B) error = %v", err)
	}
	if got := docs.docs["d1"].content; got != "heXYllo" {
		t.Fatalf("content after B = %q, want %q", got, "heXYllo")
	}

	// A 带着过期的 client_version=3、position=5 才到：位置应被平移到 7
	applied, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
		Op:            OpInsert,
		Position:      5,
		Content:       "!",
		ClientVersion: 3,
		RefTimestamp:  refTime,
	})
	if err != nil {
		t.Fatalf("Submit(A) error = %v", err)
	}
	if applied.Position != 7 {
		t.Fatalf("resolved position = %d, want 7", applied.Position)
	}
	if applied.Version != 5 {
		t.Fatalf("Version = %d, want 5", applied.Version)
	}
	if got := docs.docs["d1"].content; got != "heXYllo!" {
		t.Fatalf("content after A = %q, want %q", got, "heXYllo!")
	}
}

func TestEngine_VersionStrictlyIncrementsByOne(t *testing.T) {
	eng, docs, _ := newTestEngine()
	docs.put("d1", "", 1)

	for i := 0; i < 10; i++ {
		applied, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
			Op:       OpInsert,
			Position: i,
			Content:  "x",
		})
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
		if want := uint64(i + 2); applied.Version != want {
			t.Fatalf("Version = %d, want %d", applied.Version, want)
		}
	}
}

func TestEngine_DifferentDocumentsProceedInParallel(t *testing.T) {
	eng, docs, _ := newTestEngine()
	const perDoc = 50
	docIDs := []string{"a", "b", "c"}
	for _, id := range docIDs {
		docs.put(id, "", 1)
	}

	var wg sync.WaitGroup
	for _, id := range docIDs {
		wg.Add(1)
		go func(docID string) {
			defer wg.Done()
			for i := 0; i < perDoc; i++ {
				if _, err := eng.Submit(context.Background(), docID, 1, "alice", EditRequest{
					Op:       OpInsert,
					Position: 0,
					Content:  "x",
				}); err != nil {
					t.Errorf("Submit(%s) error = %v", docID, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range docIDs {
		if got := docs.docs[id].version; got != uint64(1+perDoc) {
			t.Fatalf("doc %s version = %d, want %d", id, got, 1+perDoc)
		}
		if got := len(docs.docs[id].content); got != perDoc {
			t.Fatalf("doc %s content length = %d, want %d", id, got, perDoc)
		}
	}
}

func TestEngine_MissingDocumentIsRecoverableNoOp(t *testing.T) {
	eng, _, edits := newTestEngine()

	_, err := eng.Submit(context.Background(), "ghost", 1, "alice", EditRequest{
		Op:       OpInsert,
		Position: 0,
		Content:  "x",
	})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("Submit() error = %v, want ErrDocumentNotFound", err)
	}

	// 日志照常追加，但没有生效，不得被标成 applied
	if len(edits.recs) != 1 {
		t.Fatalf("edit log length = %d, want 1", len(edits.recs))
	}
	if edits.recs[0].Applied {
		t.Fatal("edit on missing document must not be marked applied")
	}
}

func TestEngine_StorageFailureDropsOnlyThatEdit(t *testing.T) {
	eng, docs, edits := newTestEngine()
	docs.put("d1", "abc", 1)

	edits.failAppend = fmt.Errorf("connection reset")
	if _, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
		Op: OpInsert, Position: 0, Content: "x",
	}); err == nil {
		t.Fatal("Submit() error = nil, want append failure")
	}
	if got := docs.docs["d1"].version; got != 1 {
		t.Fatalf("version after dropped edit = %d, want 1", got)
	}

	// 房间没有被破坏，下一个编辑正常走完
	applied, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
		Op: OpInsert, Position: 0, Content: "x",
	})
	if err != nil {
		t.Fatalf("Submit() after failure error = %v", err)
	}
	if applied.Version != 2 {
		t.Fatalf("Version = %d, want 2", applied.Version)
	}
}

// MarkApplied 瞬时失败要重试：内容已落库，日志不跟上的话，
// 后续的过期编辑消解会漏算这条编辑
func TestEngine_MarkAppliedRetriesOnTransientFailure(t *testing.T) {
	eng, docs, edits := newTestEngine()
	docs.put("d1", "abc", 1)

	edits.failMark = fmt.Errorf("deadlock victim")
	applied, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
		Op: OpInsert, Position: 0, Content: "x",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if applied.Version != 2 {
		t.Fatalf("Version = %d, want 2", applied.Version)
	}
	if len(edits.recs) != 1 || !edits.recs[0].Applied {
		t.Fatal("edit must be marked applied after retry")
	}
}

func TestEngine_InvalidOperationRejected(t *testing.T) {
	eng, docs, _ := newTestEngine()
	docs.put("d1", "abc", 1)

	_, err := eng.Submit(context.Background(), "d1", 1, "alice", EditRequest{
		Op: Operation("upsert"), Position: 0,
	})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("Submit() error = %v, want ErrInvalidOperation", err)
	}
}

func TestEngine_LoadDocumentContent(t *testing.T) {
	eng, docs, _ := newTestEngine()
	docs.put("d1", "hello", 4)

	content, version, err := eng.LoadDocumentContent(context.Background(), "d1")
	if err != nil {
		t.Fatalf("LoadDocumentContent() error = %v", err)
	}
	if content != "hello" || version != 4 {
		t.Fatalf("got (%q, %d), want (%q, 4)", content, version, "hello")
	}

	if _, _, err := eng.LoadDocumentContent(context.Background(), "ghost"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("LoadDocumentContent(ghost) error = %v, want ErrDocumentNotFound", err)
	}
}
