package kobo

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/changhuapeng/KoboBooks/internal/config"
	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/isbn"
)

// seriesIndexRE 匹配系列角标文本（"Book 2 - "、"Book #11 - "）。
var seriesIndexRE = regexp.MustCompile(`(?i)book\s*#?\s*([0-9]+(?:\.[0-9]+)?)`)

// parseBook 把详情页 HTML 解析为 BookMeta。
//
// 约束：纯函数（只依赖输入 html + pageURL）；字段缺失允许为空，
// 但 title 缺失视为解析失败——那通常意味着返回的不是详情页（拦截页/空页）。
func (p Provider) parseBook(html []byte, pageURL string) (domain.BookMeta, error) {
	if len(html) == 0 {
		return domain.BookMeta{}, errors.New("html 为空")
	}
	if strings.TrimSpace(pageURL) == "" {
		return domain.BookMeta{}, errors.New("pageURL 不能为空")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.BookMeta{}, err
	}

	title := normSpace(doc.Find("h1.title").First().Text())
	if title == "" {
		// 偶见老版页面用 h2；两种都没有就认定不是详情页。
		title = normSpace(doc.Find("h2.title").First().Text())
	}
	if title == "" {
		return domain.BookMeta{}, errors.New("无法解析出标题（站点结构可能变化，或返回了非详情页内容）")
	}

	var authors []string
	doc.Find(".contributors a.contributor-name").Each(func(_ int, a *goquery.Selection) {
		authors = append(authors, normSpace(a.Text()))
	})
	authors = normList(authors)

	series, seriesIdx := parseSeries(doc)
	rating := parseRating(doc)

	// 简介保留 HTML：站点简介本身是富文本，下游按 HTML 处理。
	comments := ""
	if syn := doc.Find("div.synopsis-description").First(); syn.Length() > 0 {
		if h, err := syn.Html(); err == nil {
			comments = strings.TrimSpace(h)
		}
	}

	ids := domain.Identifiers{}
	if id, ok := domain.IDFromURL(pageURL); ok {
		ids[IDName] = string(id)
	}

	var (
		publisher string
		pubDate   string
		languages []string
	)
	// “About this book” 区块：逐行按标签前缀分发。
	doc.Find(".bookitem-secondary-metadata li").Each(func(_ int, li *goquery.Selection) {
		line := normSpace(li.Text())
		switch {
		case strings.HasPrefix(line, "Publisher:"):
			publisher = strings.TrimSpace(strings.TrimPrefix(line, "Publisher:"))
		case strings.HasPrefix(line, "Release Date:"):
			pubDate = normDate(strings.TrimSpace(strings.TrimPrefix(line, "Release Date:")))
		case strings.HasPrefix(line, "ISBN:"):
			if v, ok := isbn.Check(strings.TrimPrefix(line, "ISBN:")); ok {
				ids["isbn"] = v
			}
		case strings.HasPrefix(line, "Language:"):
			lang := strings.TrimSpace(strings.TrimPrefix(line, "Language:"))
			if lang != "" {
				languages = []string{lang}
			}
		}
	})

	tags := parseCategories(doc, p.categoryHandling())

	coverURL := ""
	img := doc.Find("img.cover-image").First()
	if src, ok := img.Attr("src"); ok {
		coverURL = strings.TrimSpace(src)
	}
	if dataSrc, ok := img.Attr("data-src"); ok && strings.TrimSpace(dataSrc) != "" {
		coverURL = strings.TrimSpace(dataSrc)
	}
	if strings.HasPrefix(coverURL, "//") {
		coverURL = "https:" + coverURL
	}

	return domain.BookMeta{
		Title:       title,
		Authors:     authors,
		Identifiers: ids,
		Rating:      rating,
		Languages:   languages,
		Comments:    comments,
		Publisher:   publisher,
		PubDate:     pubDate,
		Series:      series,
		SeriesIndex: seriesIdx,
		Tags:        tags,
		Website:     strings.TrimSpace(pageURL),
		CoverURL:    coverURL,
	}, nil
}

func (p Provider) categoryHandling() string {
	if p.CategoryHandling == "" {
		return config.CategoryIndividualTags
	}
	return p.CategoryHandling
}

// parseSeries 解析系列名与序号。
// 结构：<span class="series"><span class="sequenced-name-prefix">Book 2 - </span><a>Galactic Centre</a></span>
func parseSeries(doc *goquery.Document) (string, float64) {
	s := doc.Find("span.series").First()
	if s.Length() == 0 {
		return "", 0
	}
	name := normSpace(s.Find("a").First().Text())
	if name == "" {
		return "", 0
	}
	idx := 0.0
	if m := seriesIndexRE.FindStringSubmatch(s.Find(".sequenced-name-prefix").First().Text()); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			idx = v
		}
	}
	return name, idx
}

// parseRating 读取星级评分（0~5；缺失/非法为 0）。
func parseRating(doc *goquery.Document) float64 {
	raw, ok := doc.Find(".item-stars .stars").First().Attr("data-rating")
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}
	return v
}

// parseCategories 把分类 breadcrumb 展开为 tags。
// 每个 li.rank 是一条完整层级路径（"Fiction > Science Fiction"）。
func parseCategories(doc *goquery.Document, handling string) []string {
	var tags []string
	doc.Find("ul.category-rankings li.rank").Each(func(_ int, li *goquery.Selection) {
		var path []string
		li.Find("a").Each(func(_ int, a *goquery.Selection) {
			if t := normSpace(a.Text()); t != "" {
				path = append(path, t)
			}
		})
		if len(path) == 0 {
			return
		}
		switch handling {
		case config.CategoryTopLevelOnly:
			tags = append(tags, path[0])
		case config.CategoryHierarchy:
			tags = append(tags, strings.Join(path, " > "))
		default: // individual_tags
			tags = append(tags, path...)
		}
	})
	return normList(tags)
}

// normDate 把站点展示的日期统一为 ISO 形态；无法识别时原样保留。
func normDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

func normList(in []string) []string {
	m := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := m[s]; ok {
			continue
		}
		m[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
