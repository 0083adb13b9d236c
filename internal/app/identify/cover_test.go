package identify

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/changhuapeng/KoboBooks/internal/domain"
)

func coverJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{180, 180, 180, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("编码封面失败：%v", err)
	}
	return buf.Bytes()
}

func newCoverServer(t *testing.T, body []byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func downloadCover(t *testing.T, ctx context.Context, s *Source, q Query) (Cover, bool) {
	t.Helper()
	ch := make(chan Cover, 1)
	s.DownloadCover(ctx, q, ch)
	select {
	case c := <-ch:
		return c, true
	default:
		return Cover{}, false
	}
}

func TestDownloadCover_CacheHitByKoboID(t *testing.T) {
	img := coverJPEG(t)
	imgSrv, imgHits := newCoverServer(t, img)

	p := &stubProvider{searchOK: false} // 缓存命中时不应走到 identify
	s := newTestSource(t, p)
	s.Covers.SetCoverURL("turn-coat-1", imgSrv.URL+"/cover.jpg")

	c, ok := downloadCover(t, context.Background(), s,
		Query{Identifiers: domain.Identifiers{"kobo": "turn-coat-1"}})
	if !ok {
		t.Fatalf("期望拿到封面")
	}
	if !bytes.Equal(c.Data, img) {
		t.Fatalf("封面字节不一致：len=%d", len(c.Data))
	}
	if got := atomic.LoadInt32(imgHits); got != 1 {
		t.Fatalf("期望 1 次图片请求，实际=%d", got)
	}
	if len(p.createCalls) != 0 {
		t.Fatalf("缓存命中时不应执行 identify，实际构造查询=%d 次", len(p.createCalls))
	}
}

func TestDownloadCover_CacheHitViaISBN(t *testing.T) {
	img := coverJPEG(t)
	imgSrv, _ := newCoverServer(t, img)

	s := newTestSource(t, &stubProvider{searchOK: false})
	s.Covers.SetKoboID("9780748111824", "turn-coat-1")
	s.Covers.SetCoverURL("turn-coat-1", imgSrv.URL+"/cover.jpg")

	_, ok := downloadCover(t, context.Background(), s,
		Query{Identifiers: domain.Identifiers{"isbn": "978-0-7481-1182-4"}})
	if !ok {
		t.Fatalf("期望经 ISBN -> 站点 ID 间接命中缓存")
	}
}

func TestDownloadCover_MissRunsIdentifyFirst(t *testing.T) {
	img := coverJPEG(t)
	imgSrv, _ := newCoverServer(t, img)
	searchSrv, _ := newSearchServer(t)

	p := &stubProvider{
		searchURL:   searchSrv.URL,
		searchOK:    true,
		candsByCall: [][]domain.Candidate{{{URL: "https://books.example/ebook/turn-coat-1"}}},
	}
	p.fetch = func(cand domain.Candidate) (domain.BookMeta, error) {
		return domain.BookMeta{
			Title:       "Turn Coat",
			Identifiers: domain.Identifiers{"kobo": "turn-coat-1"},
			CoverURL:    imgSrv.URL + "/cover.jpg",
			Website:     cand.URL,
		}, nil
	}
	s := newTestSource(t, p)

	c, ok := downloadCover(t, context.Background(), s, Query{Title: "Turn Coat"})
	if !ok {
		t.Fatalf("期望 identify 填充缓存后拿到封面")
	}
	if c.URL != imgSrv.URL+"/cover.jpg" {
		t.Fatalf("期望来源 URL 来自缓存，实际=%q", c.URL)
	}
	if len(p.createCalls) != 1 {
		t.Fatalf("期望执行了一次 identify，实际构造查询=%d 次", len(p.createCalls))
	}
}

func TestDownloadCover_NoCoverIsSilent(t *testing.T) {
	searchSrv, _ := newSearchServer(t)
	p := &stubProvider{
		searchURL:   searchSrv.URL,
		searchOK:    true,
		candsByCall: [][]domain.Candidate{{{URL: "https://books.example/ebook/no-cover-1"}}},
	}
	p.fetch = func(cand domain.Candidate) (domain.BookMeta, error) {
		// 有记录但没有封面 URL。
		return domain.BookMeta{
			Title:       "No Cover",
			Identifiers: domain.Identifiers{"kobo": "no-cover-1"},
			Website:     cand.URL,
		}, nil
	}
	s := newTestSource(t, p)

	if _, ok := downloadCover(t, context.Background(), s, Query{Title: "No Cover"}); ok {
		t.Fatalf("无封面时不应推送任何结果")
	}
}

func TestDownloadCover_RejectsNonImageResponse(t *testing.T) {
	htmlSrv, _ := newCoverServer(t, []byte("<html>Not Found</html>"))

	s := newTestSource(t, &stubProvider{searchOK: false})
	s.Covers.SetCoverURL("turn-coat-1", htmlSrv.URL+"/cover.jpg")

	if _, ok := downloadCover(t, context.Background(), s,
		Query{Identifiers: domain.Identifiers{"kobo": "turn-coat-1"}}); ok {
		t.Fatalf("HTML 响应不应被当作封面推送")
	}
}

func TestDownloadCover_IdentifyFailureIsSilent(t *testing.T) {
	s := newTestSource(t, &stubProvider{searchOK: false})

	// 输入不足：identify 失败，但 DownloadCover 不应崩溃或推送。
	if _, ok := downloadCover(t, context.Background(), s, Query{}); ok {
		t.Fatalf("identify 失败时不应推送结果")
	}
}

func TestDownloadCover_CancelledContext(t *testing.T) {
	img := coverJPEG(t)
	imgSrv, imgHits := newCoverServer(t, img)

	s := newTestSource(t, &stubProvider{searchOK: false})
	s.Covers.SetCoverURL("turn-coat-1", imgSrv.URL+"/cover.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if _, ok := downloadCover(t, ctx, s,
		Query{Identifiers: domain.Identifiers{"kobo": "turn-coat-1"}}); ok {
		t.Fatalf("取消后不应推送结果")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("取消后应尽快返回")
	}
	if got := atomic.LoadInt32(imgHits); got != 0 {
		t.Fatalf("取消后不应发起图片请求，实际=%d", got)
	}
}
