package kobo

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/tokenize"
)

// ParseSearchResults 把搜索结果页解析为候选列表。
//
// 规则：
// - 按文档顺序遍历（站点已按相关性排序，这里不重排）
// - 标题过滤：原始标题 token 为空时全收；否则任一 token 是候选标题
//   （折叠后）的子串即命中——刻意宽松，容忍词序差异与残缺标题，
//   误报交给下游详情页解析 + 排序二次过滤
// - 收满 max 条立即停止，余下文档丢弃
// - 单条结构异常只跳过该条，不影响整页
func (p Provider) ParseSearchResults(html []byte, origTitle string, max int) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	titleTokens := tokenize.TitleTokens(origTitle, true, false)

	var out []domain.Candidate
	doc.Find("div.SearchResultsWidget section div ul li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		info := itemInfoOf(li)
		if info == nil {
			// 两种结构都不命中：跳过该条（站点偶发的异形条目，不值得报错）。
			return true
		}

		titleRef := info.Find("h2 a").First()
		href, ok := titleRef.Attr("href")
		if !ok {
			return true
		}
		id, ok := domain.ParseKoboID(lastPathSegment(href))
		if !ok {
			return true
		}

		title := strings.TrimSpace(titleRef.Text())
		if !titleMatches(title, titleTokens) {
			return true
		}

		out = append(out, domain.Candidate{
			URL:       p.BookURL(id),
			Publisher: strings.TrimSpace(info.Find("p.publisher a").First().Text()),
		})
		return len(out) < max
	})
	return out, nil
}

// itemInfoOf 定位条目里包含标题链接的 item-info 容器。
//
// 观测到两种结构（站点偶尔会多包一层 div）：
// 1) li > div > div > div.item-info（常见）
// 2) li > div > div.item-info（偶发）
// 先试常见结构，再退回另一种。这是对不受控 HTML 的容错，不是真正的多态；
// 两种都失败时该条会被上层静默跳过。
func itemInfoOf(li *goquery.Selection) *goquery.Selection {
	s := li.ChildrenFiltered("div").ChildrenFiltered("div").ChildrenFiltered("div.item-info")
	if s.Length() > 0 {
		return s.First()
	}
	s = li.ChildrenFiltered("div").ChildrenFiltered("div.item-info")
	if s.Length() > 0 {
		return s.First()
	}
	return nil
}

// titleMatches：token 为空表示不过滤；否则任一 token 命中即可。
func titleMatches(title string, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	folded := tokenize.Fold(title)
	for _, t := range tokens {
		if strings.Contains(folded, t) {
			return true
		}
	}
	return false
}

// lastPathSegment 取 href 的末段路径（站点 ID 就是详情页 URL 的最后一段）。
func lastPathSegment(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return strings.TrimSpace(href)
}
