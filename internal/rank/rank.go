// Package rank 为 identify 结果提供统一的相关性排序。
//
// 只在封面解析等“必须选出一条最优记录”的场景使用；identify 自身
// 不排序（结果通道是无序多重集，由调用方自行处理）。
package rank

import (
	"sort"
	"strings"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/isbn"
	"github.com/changhuapeng/KoboBooks/internal/tokenize"
)

// Key 是一条记录相对查询上下文的排序键；逐字段比较，越小越靠前。
type Key struct {
	Title  int // 0 完全一致 / 1 前缀 / 2 全 token 命中 / 3 部分命中 / 4 不命中
	Author int // 0 全 token 命中 / 1 部分命中 / 2 不命中
	ISBN   int // 0 与查询 ISBN 一致 / 1 其他
}

func (k Key) less(o Key) bool {
	if k.Title != o.Title {
		return k.Title < o.Title
	}
	if k.Author != o.Author {
		return k.Author < o.Author
	}
	return k.ISBN < o.ISBN
}

// Keygen 返回针对一次查询上下文的记录打分函数。
// 查询缺失的维度不参与区分（全部记 0）。
func Keygen(title string, authors []string, ids domain.Identifiers) func(domain.BookMeta) Key {
	titleTokens := tokenize.TitleTokens(title, true, false)
	foldedTitle := tokenize.Fold(strings.TrimSpace(title))
	authorTokens := tokenize.AuthorTokens(authors, false)

	queryISBN := ""
	if raw, ok := ids.Get("isbn"); ok {
		if v, valid := isbn.Check(raw); valid {
			queryISBN = v
		}
	}

	return func(m domain.BookMeta) Key {
		var k Key
		if foldedTitle != "" {
			k.Title = titleRank(foldedTitle, titleTokens, m.Title)
		}
		if len(authorTokens) > 0 {
			k.Author = authorRank(authorTokens, m.Authors)
		}
		if queryISBN != "" {
			k.ISBN = 1
			if v, ok := m.Identifiers.Get("isbn"); ok && v == queryISBN {
				k.ISBN = 0
			}
		}
		return k
	}
}

// Sort 按 Keygen 的键对记录做稳定排序（键相同保持到达顺序）。
func Sort(records []domain.BookMeta, title string, authors []string, ids domain.Identifiers) {
	keyOf := Keygen(title, authors, ids)
	keys := make([]Key, len(records))
	for i := range records {
		keys[i] = keyOf(records[i])
	}
	sort.SliceStable(records, func(i, j int) bool { return keys[i].less(keys[j]) })
}

func titleRank(foldedQuery string, queryTokens []string, got string) int {
	folded := tokenize.Fold(strings.TrimSpace(got))
	switch {
	case folded == foldedQuery:
		return 0
	case strings.HasPrefix(folded, foldedQuery):
		return 1
	}
	hit := 0
	for _, t := range queryTokens {
		if strings.Contains(folded, t) {
			hit++
		}
	}
	switch {
	case len(queryTokens) > 0 && hit == len(queryTokens):
		return 2
	case hit > 0:
		return 3
	default:
		return 4
	}
}

func authorRank(tokens []string, authors []string) int {
	joined := tokenize.Fold(strings.Join(authors, " "))
	hit := 0
	for _, t := range tokens {
		if strings.Contains(joined, t) {
			hit++
		}
	}
	switch {
	case hit == len(tokens):
		return 0
	case hit > 0:
		return 1
	default:
		return 2
	}
}
