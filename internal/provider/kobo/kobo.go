// Package kobo 实现 Kobo 书店的查询构造、搜索结果匹配与详情页解析。
//
// 站点交互只有两类页面：搜索结果页（/search）与详情页（/ebook/<id>）。
// 站点结构漂移频繁，解析端一律“宽松匹配 + 单条降级”，不让单条异常放大为整体失败。
package kobo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/infra/httpx"
	"github.com/changhuapeng/KoboBooks/internal/isbn"
	"github.com/changhuapeng/KoboBooks/internal/provider"
	"github.com/changhuapeng/KoboBooks/internal/tokenize"
)

const (
	// Name 是 provider 名（小写）。
	Name = "kobo"
	// IDName 是 identifier 映射里站点自有 ID 的方案名。
	IDName = "kobo"

	bookPath   = "/ebook/"
	searchPath = "/search"

	defaultBaseURL = "https://www.kobo.com"
)

// Provider 实现 provider.Provider。
//
// 零值可用：BaseURL 为空时使用默认域名，CategoryHandling 为空时按 individual_tags 处理。
type Provider struct {
	// BaseURL 允许指定可用的区域镜像域名（例如 www.kobo.com 被阻断时）。
	BaseURL string

	// CategoryHandling 控制分类 breadcrumb 到 tags 的展开方式，
	// 取值见 config.Category*。
	CategoryHandling string
}

func (Provider) Name() string { return Name }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// BookURL 返回站点 ID 对应的规范详情页 URL。
func (p Provider) BookURL(id domain.KoboID) string {
	return p.baseURL() + bookPath + string(id)
}

// IsSearchResultURL 判断 u 是否仍指向搜索端点。
// ISBN 搜索命中唯一一本书时，站点会把搜索请求直接重定向到详情页；
// 重定向后的 URL 不再含搜索路径。
func (Provider) IsSearchResultURL(u string) bool {
	return strings.Contains(u, searchPath)
}

// CreateQuery 构造搜索 URL。
//
// 规则（优先级固定）：
// 1) identifier 中有合法 ISBN：query=<isbn>&fcmedia=Book（ISBN 无歧义，压过标题搜索）
// 2) 有标题：标题 token（保留连接词、去副标题）+ 第一作者 token，
//    逐个百分号编码后用 '+' 连接
// 3) 都没有：ok=false（输入不足，不算错误）
//
// 输出对相同输入是确定的：无随机、无时间依赖。
func (p Provider) CreateQuery(title string, authors []string, ids domain.Identifiers) (string, bool) {
	q := ""
	if raw, ok := ids.Get("isbn"); ok {
		if v, valid := isbn.Check(raw); valid {
			q = "query=" + v + "&fcmedia=Book"
		}
	}

	if q == "" && strings.TrimSpace(title) != "" {
		// 搜索要靠完整标题文本召回，连接词保留；副标题只添噪音，去掉。
		tokens := tokenize.TitleTokens(title, false, true)
		tokens = append(tokens, tokenize.AuthorTokens(authors, true)...)
		if len(tokens) > 0 {
			enc := make([]string, 0, len(tokens))
			for _, t := range tokens {
				enc = append(enc, url.QueryEscape(t))
			}
			q = "query=" + strings.Join(enc, "+") + "&fcmedia=Book"
		}
	}

	if q == "" {
		return "", false
	}
	return p.baseURL() + searchPath + "?" + q + "&fclanguages=all", true
}

// FetchBook 抓取并解析一条候选的详情页。
//
// authorTokens 非空时做作者比对：解析出的作者中必须至少命中一个 token，
// 否则该候选按解析失败处理（详情页比对可以比搜索页更严格）。
func (p Provider) FetchBook(ctx context.Context, c *http.Client, cand domain.Candidate, authorTokens []string) (domain.BookMeta, error) {
	html, finalURL, err := httpx.Fetch(ctx, c, cand.URL)
	if err != nil {
		return domain.BookMeta{}, &provider.Error{Provider: Name, Stage: "fetch", Err: err}
	}

	meta, err := p.parseBook(html, finalURL)
	if err != nil {
		return domain.BookMeta{}, &provider.Error{Provider: Name, Stage: "parse", Err: err}
	}

	if meta.Publisher == "" && strings.TrimSpace(cand.Publisher) != "" {
		// 搜索页偶尔带 publisher 提示；详情页缺失时兜底。
		meta.Publisher = strings.TrimSpace(cand.Publisher)
	}

	if len(authorTokens) > 0 && !authorsMatch(meta.Authors, authorTokens) {
		return domain.BookMeta{}, &provider.Error{
			Provider: Name,
			Stage:    "parse",
			Err:      fmt.Errorf("作者不匹配：页面作者=%v", meta.Authors),
		}
	}
	return meta, nil
}

// authorsMatch：任意一个 token 是任一作者（折叠后）的子串即视为命中。
// 与标题匹配同样宽松：接受误报，由排序层二次过滤。
func authorsMatch(authors []string, tokens []string) bool {
	if len(authors) == 0 {
		return false
	}
	joined := tokenize.Fold(strings.Join(authors, " "))
	for _, t := range tokens {
		if strings.Contains(joined, t) {
			return true
		}
	}
	return false
}
