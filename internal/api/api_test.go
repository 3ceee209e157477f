package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/layout"
	"github.com/local/receiptprint/internal/printsheet"
	"github.com/local/receiptprint/internal/queue"
	"github.com/local/receiptprint/internal/rasterizer"
	"github.com/local/receiptprint/internal/records"
	"github.com/local/receiptprint/internal/session"
	"github.com/local/receiptprint/internal/source"
	"github.com/local/receiptprint/internal/store"
	"github.com/local/receiptprint/internal/testutil"
)

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	lib    *source.Library
}

func newTestEnv(t *testing.T, passcode string) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	q, err := queue.New(context.Background(), rc, "jobs:crop:batch", "workers:crop")
	if err != nil {
		t.Fatal(err)
	}

	rast := rasterizer.New(rasterizer.Options{Engine: "fitz"})
	lib := source.NewLibrary()
	reg := session.NewRegistry(rast, session.Viewport{Width: 864, Height: 600})
	t.Cleanup(reg.CloseAll)

	s, err := New(Dependencies{
		Library:     lib,
		Fetcher:     source.NewFetcher(source.FetcherOptions{MaxBytes: 1 << 20}),
		Sessions:    reg,
		Cropper:     crop.NewAutoCropper(rast),
		Composer:    printsheet.NewComposer(layout.A4(), 72),
		Batch:       q,
		BatchStatus: store.NewStatus(rc),
		Records:     records.New(rc),
		Passcode:    passcode,
	})
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	jar, _ := cookiejar.New(nil)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, lib: lib}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (e *testEnv) upload(t *testing.T, files map[string][]byte) addFilesResp {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, _ := mw.CreateFormFile("file", name)
		fw.Write(data)
	}
	mw.Close()
	resp, err := e.client.Post(e.srv.URL+"/files", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out addFilesResp
	json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func mustDecode(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestUploadFiltersByContent(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{
		"a.pdf":    testutil.PDF(testutil.Page{Width: 300, Height: 400}),
		"b.png":    testutil.PNG(40, 30, color.White),
		"c.txt":    []byte("just text"),
		"fake.pdf": []byte("not really a pdf"),
	})
	if len(res.Accepted) != 2 || len(res.Dropped) != 2 {
		t.Fatalf("accepted=%d dropped=%d", len(res.Accepted), len(res.Dropped))
	}

	_, body := e.do(t, http.MethodGet, "/files", nil)
	var files []fileJSON
	mustDecode(t, body, &files)
	if len(files) != 2 {
		t.Fatalf("listed %d files", len(files))
	}
	for _, f := range files {
		if f.Kind == "png" && (!f.HasPreview || f.PreviewOrigin != string(crop.OriginUpload)) {
			t.Errorf("png should have its upload preview: %+v", f)
		}
		if f.Kind == "pdf" && f.HasPreview {
			t.Errorf("pdf should start without preview: %+v", f)
		}
	}
}

func TestAddFilesDropsLocalRefs(t *testing.T) {
	e := newTestEnv(t, "")
	p := filepath.Join(t.TempDir(), "host.pdf")
	if err := os.WriteFile(p, testutil.PDF(testutil.Page{Width: 100, Height: 100}), 0o644); err != nil {
		t.Fatal(err)
	}
	resp, body := e.do(t, http.MethodPost, "/files", map[string]any{"refs": []string{p, "file://" + p}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add refs = %d %s", resp.StatusCode, body)
	}
	var res addFilesResp
	mustDecode(t, body, &res)
	if len(res.Accepted) != 0 || len(res.Dropped) != 2 {
		t.Fatalf("local refs accepted: %+v", res)
	}
	if len(e.lib.List()) != 0 {
		t.Fatal("library should stay empty")
	}
}

func TestAutoCropFile(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{"a.pdf": testutil.PDF(testutil.Page{Width: 612, Height: 792})})
	id := res.Accepted[0].ID

	resp, _ := e.do(t, http.MethodGet, "/files/"+id+"/preview", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("preview before crop = %d", resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodPost, "/files/"+id+"/autocrop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("autocrop = %d %s", resp.StatusCode, body)
	}
	resp, body = e.do(t, http.MethodGet, "/files/"+id+"/preview", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("preview = %d", resp.StatusCode)
	}
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != crop.OutputSide || b.Dy() != crop.OutputSide {
		t.Fatalf("preview is %dx%d", b.Dx(), b.Dy())
	}

	if resp, _ := e.do(t, http.MethodPost, "/files/"+id+"/autocrop", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second autocrop = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/files/missing/autocrop", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing file = %d", resp.StatusCode)
	}
}

func TestAutoCropPageOutOfRange(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{"a.pdf": testutil.PDF(testutil.Page{Width: 300, Height: 300})})
	resp, _ := e.do(t, http.MethodPost, "/files/"+res.Accepted[0].ID+"/autocrop?page=4", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSessionFlow(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{"a.pdf": testutil.PDF(
		testutil.Page{Width: 300, Height: 400},
		testutil.Page{Width: 400, Height: 300},
	)})
	fileID := res.Accepted[0].ID

	resp, body := e.do(t, http.MethodPost, "/sessions", map[string]any{
		"file_id":  fileID,
		"viewport": map[string]float64{"width": 800, "height": 600},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %s", resp.StatusCode, body)
	}
	var snap session.Snapshot
	mustDecode(t, body, &snap)
	if snap.State != session.StatePageReady || snap.Page != 1 || snap.TotalPages != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	_, body = e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/next", nil)
	mustDecode(t, body, &snap)
	if snap.Page != 2 {
		t.Fatalf("after next page = %d", snap.Page)
	}
	resp, _ = e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/page?n=9", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("page 9 = %d", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/cropbox", session.CropBox{Left: 10, Top: 10, Side: 100})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cropbox = %d %s", resp.StatusCode, body)
	}
	resp, _ = e.do(t, http.MethodGet, "/sessions/"+snap.ID+"/page.png", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Page") != "2" {
		t.Fatalf("page.png = %d page=%s", resp.StatusCode, resp.Header.Get("X-Page"))
	}

	_, body = e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/confirm", nil)
	mustDecode(t, body, &snap)
	if snap.State != session.StateCropped {
		t.Fatalf("after confirm state = %s", snap.State)
	}
	f, _ := e.lib.Get(fileID)
	if p := f.Preview(); p == nil || p.Width() != crop.OutputSide || p.Origin() != crop.OriginManual {
		t.Fatalf("preview after confirm = %+v", p)
	}
	if resp, _ := e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/confirm", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second confirm = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/explode", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action = %d", resp.StatusCode)
	}

	if resp, _ := e.do(t, http.MethodDelete, "/files/"+fileID, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete file = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/sessions/"+snap.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session should close with its file, got %d", resp.StatusCode)
	}
}

func TestSessionRejectsImage(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{"b.png": testutil.PNG(10, 10, color.White)})
	resp, _ := e.do(t, http.MethodPost, "/sessions", map[string]any{"file_id": res.Accepted[0].ID})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLayoutAndPrint(t *testing.T) {
	e := newTestEnv(t, "")
	for i := 0; i < 3; i++ {
		e.upload(t, map[string][]byte{fmt.Sprintf("r%d.png", i): testutil.PNG(60, 40, color.White)})
	}

	resp, _ := e.do(t, http.MethodGet, "/layout?density=5", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("density 5 = %d", resp.StatusCode)
	}
	_, body := e.do(t, http.MethodGet, "/layout?density=3", nil)
	var lay layoutResp
	mustDecode(t, body, &lay)
	if lay.Rows != 1 || lay.Columns != 3 || len(lay.Pages) != 1 || lay.Pages[0].Occupied != 3 {
		t.Fatalf("density 3 layout = %+v", lay)
	}
	_, body = e.do(t, http.MethodGet, "/layout?density=2", nil)
	lay = layoutResp{}
	mustDecode(t, body, &lay)
	if lay.Rows != 1 || lay.Columns != 2 || lay.Images != 3 || len(lay.Pages) != 2 {
		t.Fatalf("layout = %+v", lay)
	}
	if lay.Pages[1].Occupied != 1 || lay.Pages[1].Slots[1] != nil {
		t.Fatalf("last page = %+v", lay.Pages[1])
	}

	resp, body = e.do(t, http.MethodGet, "/print.html?density=2", nil)
	if resp.StatusCode != http.StatusOK || strings.Count(string(body), `class="sheet`) != 2 {
		t.Fatalf("print.html = %d", resp.StatusCode)
	}
	resp, body = e.do(t, http.MethodGet, "/print.pdf", nil)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatalf("print.pdf = %d", resp.StatusCode)
	}
}

func TestPrintNothingToPrint(t *testing.T) {
	e := newTestEnv(t, "")
	for _, path := range []string{"/print.pdf", "/print.html"} {
		if resp, _ := e.do(t, http.MethodGet, path, nil); resp.StatusCode != http.StatusConflict {
			t.Errorf("%s status = %d, want 409", path, resp.StatusCode)
		}
	}
}

func TestBatchLifecycle(t *testing.T) {
	e := newTestEnv(t, "")
	_, body := e.do(t, http.MethodPost, "/batch", nil)
	var br batchResp
	mustDecode(t, body, &br)
	if br.JobID != "" || br.Total != 0 {
		t.Fatalf("empty batch = %+v", br)
	}

	e.upload(t, map[string][]byte{"a.pdf": testutil.PDF(testutil.Page{Width: 300, Height: 300})})
	resp, body := e.do(t, http.MethodPost, "/batch", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	mustDecode(t, body, &br)
	if br.JobID == "" || br.Total != 1 {
		t.Fatalf("batch = %+v", br)
	}

	_, body = e.do(t, http.MethodGet, "/batch/"+br.JobID, nil)
	var st store.BatchStatus
	mustDecode(t, body, &st)
	if st.Status != store.StateQueued || st.Total != 1 {
		t.Fatalf("status = %+v", st)
	}
	if resp, _ := e.do(t, http.MethodPost, "/batch/"+br.JobID+"/cancel", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/batch/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job = %d", resp.StatusCode)
	}
}

func TestRecordsRequirePasscode(t *testing.T) {
	e := newTestEnv(t, "2468")

	if resp, _ := e.do(t, http.MethodGet, "/records", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/auth/verify", map[string]string{"passcode": "1111"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong passcode = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/auth/verify", map[string]string{"passcode": "2468"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("right passcode = %d", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodPost, "/records", map[string]any{"name": "Rent", "amount": 500})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %s", resp.StatusCode, body)
	}
	var rec records.Record
	mustDecode(t, body, &rec)

	resp, body = e.do(t, http.MethodPost, "/records/"+rec.ID+"/payment", map[string]any{"amount": 200})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payment = %d", resp.StatusCode)
	}
	mustDecode(t, body, &rec)
	if rec.Status != records.StatusPartial || rec.RemainingAmount != 300 {
		t.Fatalf("after payment = %+v", rec)
	}

	_, body = e.do(t, http.MethodGet, "/records?status=partial", nil)
	var list []records.Record
	mustDecode(t, body, &list)
	if len(list) != 1 {
		t.Fatalf("filtered list = %d", len(list))
	}
	_, body = e.do(t, http.MethodGet, "/records/"+rec.ID+"/logs", nil)
	var logs []records.AuditEntry
	mustDecode(t, body, &logs)
	if len(logs) != 2 || logs[0].Action != records.ActionPayment {
		t.Fatalf("logs = %+v", logs)
	}

	if resp, _ := e.do(t, http.MethodPost, "/records", map[string]any{"amount": 5}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid record = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodDelete, "/records/"+rec.ID, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/records/"+rec.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted = %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{source.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", records.ErrNotFound), http.StatusNotFound},
		{session.ErrBusy, http.StatusConflict},
		{source.ErrPreviewSet, http.StatusConflict},
		{&rasterizer.DecodeError{Err: errors.New("bad xref")}, http.StatusUnprocessableEntity},
		{&rasterizer.PageOutOfRangeError{Page: 3, Total: 2}, http.StatusUnprocessableEntity},
		{&records.ValidationError{Field: "amount", Reason: "must be positive"}, http.StatusBadRequest},
		{&layout.InvalidDensityError{Value: 5}, http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("render page 2: %w: %w", rasterizer.ErrRenderCanceled, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSessionSkipRemovesFile(t *testing.T) {
	e := newTestEnv(t, "")
	res := e.upload(t, map[string][]byte{"a.pdf": testutil.PDF(testutil.Page{Width: 300, Height: 400})})
	fileID := res.Accepted[0].ID

	_, body := e.do(t, http.MethodPost, "/sessions", map[string]any{"file_id": fileID})
	var snap session.Snapshot
	mustDecode(t, body, &snap)

	resp, body := e.do(t, http.MethodPost, "/sessions/"+snap.ID+"/skip", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip = %d %s", resp.StatusCode, body)
	}
	mustDecode(t, body, &snap)
	if snap.State != session.StateSkipped {
		t.Fatalf("state = %s", snap.State)
	}
	if _, err := e.lib.Get(fileID); !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("skipped file still in library: %v", err)
	}
	if resp, _ := e.do(t, http.MethodGet, "/sessions/"+snap.ID, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session after skip = %d", resp.StatusCode)
	}
}
