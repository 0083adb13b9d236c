package kobo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/infra/httpx"
	"github.com/changhuapeng/KoboBooks/internal/provider"
)

func TestCreateQuery_ISBNTakesPrecedence(t *testing.T) {
	u, ok := Provider{}.CreateQuery("Turn Coat", []string{"Jim Butcher"},
		domain.Identifiers{"isbn": "9780748111824"})
	if !ok {
		t.Fatalf("期望构造成功")
	}
	want := "https://www.kobo.com/search?query=9780748111824&fcmedia=Book&fclanguages=all"
	if u != want {
		t.Fatalf("期望 %q，实际=%q", want, u)
	}
}

func TestCreateQuery_TitleAndFirstAuthor(t *testing.T) {
	u, ok := Provider{}.CreateQuery("Turn Coat: A Novel", []string{"Jim Butcher", "Somebody Else"}, nil)
	if !ok {
		t.Fatalf("期望构造成功")
	}
	// 副标题去掉；只取第一作者；token 用 '+' 连接。
	want := "https://www.kobo.com/search?query=turn+coat+jim+butcher&fcmedia=Book&fclanguages=all"
	if u != want {
		t.Fatalf("期望 %q，实际=%q", want, u)
	}
}

func TestCreateQuery_InvalidISBNFallsBackToTitle(t *testing.T) {
	u, ok := Provider{}.CreateQuery("Turn Coat", nil,
		domain.Identifiers{"isbn": "not-an-isbn"})
	if !ok {
		t.Fatalf("期望回退到标题查询")
	}
	if !strings.Contains(u, "query=turn+coat&") {
		t.Fatalf("期望标题查询，实际=%q", u)
	}
}

func TestCreateQuery_TokensPercentEncoded(t *testing.T) {
	u, ok := Provider{}.CreateQuery("C++ & Go", nil, nil)
	if !ok {
		t.Fatalf("期望构造成功")
	}
	// '&' 作为 token 必须被编码，否则会破坏查询串结构。
	if strings.Contains(strings.TrimPrefix(u, "https://www.kobo.com/search?query="), " ") ||
		strings.Count(u, "&") != 2 {
		t.Fatalf("期望 token 逐个编码（仅保留两个参数分隔 &），实际=%q", u)
	}
}

func TestCreateQuery_InsufficientInput(t *testing.T) {
	if _, ok := (Provider{}).CreateQuery("", nil, nil); ok {
		t.Fatalf("无输入时期望 ok=false")
	}
	if _, ok := (Provider{}).CreateQuery("   ", []string{}, domain.Identifiers{"isbn": "bad"}); ok {
		t.Fatalf("只有非法 ISBN 时期望 ok=false")
	}
}

func TestCreateQuery_CustomBaseURL(t *testing.T) {
	p := Provider{BaseURL: "https://mirror.example/"}
	u, ok := p.CreateQuery("Turn Coat", nil, nil)
	if !ok || !strings.HasPrefix(u, "https://mirror.example/search?") {
		t.Fatalf("期望镜像域名生效，实际 ok=%v u=%q", ok, u)
	}
}

func TestBookURL(t *testing.T) {
	got := Provider{}.BookURL("turn-coat-1")
	if got != "https://www.kobo.com/ebook/turn-coat-1" {
		t.Fatalf("期望规范详情页 URL，实际=%q", got)
	}
}

func TestIsSearchResultURL(t *testing.T) {
	p := Provider{}
	if !p.IsSearchResultURL("https://www.kobo.com/search?query=x") {
		t.Fatalf("搜索 URL 应判定为 true")
	}
	if p.IsSearchResultURL("https://www.kobo.com/ebook/turn-coat-1") {
		t.Fatalf("详情页 URL 应判定为 false")
	}
}

func TestFetchBook_ParsesDetailPage(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/ebook/turn-coat-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<h1 class="title">Turn Coat</h1>
			<div class="contributors"><a class="contributor-name" href="#">Jim Butcher</a></div>
		</body></html>`))
	})

	c, err := httpx.NewMetaClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	meta, err := Provider{}.FetchBook(context.Background(), c,
		domain.Candidate{URL: srv.URL + "/ebook/turn-coat-1", Publisher: "Penguin"},
		[]string{"butcher"})
	if err != nil {
		t.Fatalf("FetchBook 失败：%v", err)
	}
	if meta.Title != "Turn Coat" {
		t.Fatalf("期望标题 Turn Coat，实际=%q", meta.Title)
	}
	if meta.Publisher != "Penguin" {
		t.Fatalf("详情页无 publisher 时期望用搜索页提示兜底，实际=%q", meta.Publisher)
	}
	if id, _ := meta.Identifiers.Get("kobo"); id != "turn-coat-1" {
		t.Fatalf("期望从最终 URL 提取站点 ID，实际=%q", id)
	}
}

func TestFetchBook_AuthorMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<h1 class="title">Turn Coat</h1>
			<div class="contributors"><a class="contributor-name" href="#">Somebody Else</a></div>
		</body></html>`))
	}))
	defer srv.Close()

	c, err := httpx.NewMetaClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	_, err = Provider{}.FetchBook(context.Background(), c,
		domain.Candidate{URL: srv.URL + "/ebook/turn-coat-1"}, []string{"butcher"})

	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("期望 *provider.Error，实际=%v", err)
	}
	if pe.Stage != "parse" {
		t.Fatalf("期望 stage=parse，实际=%q", pe.Stage)
	}
}

func TestFetchBook_FetchErrorStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := httpx.NewMetaClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	_, err = Provider{}.FetchBook(context.Background(), c,
		domain.Candidate{URL: srv.URL + "/ebook/turn-coat-1"}, nil)

	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("期望 *provider.Error，实际=%v", err)
	}
	if pe.Stage != "fetch" {
		t.Fatalf("期望 stage=fetch，实际=%q", pe.Stage)
	}
}
