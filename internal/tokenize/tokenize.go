// Package tokenize 把原始标题/作者文本变成可比较的搜索 token。
//
// 约束：
// - 纯函数：相同输入 => 相同输出；不访问网络/时间/全局状态
// - 对空串与任意 Unicode 输入不失败（最多退化为空序列）
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// joiners 是搜索中无区分度的连接词（匹配阶段默认剔除）。
var joiners = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "&": {},
}

// authorStop 是作者 token 中需要剔除的称谓/连接成分。
var authorStop = map[string]struct{}{
	"von": {}, "van": {}, "jr": {}, "sr": {}, "ed": {},
}

// foldT：NFD 展开 -> 去除组合附加符号（变音符）-> NFC 重组。
// 每次调用新建 transformer：norm 的内部状态不可并发复用。
func foldT() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Fold 做变音符折叠 + 小写化（"Café" -> "cafe"）。
// 折叠失败（非法字节序列等）时退回原文的小写形态，不报错。
func Fold(s string) string {
	out, _, err := transform.String(foldT(), s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// TitleTokens 把标题切成有序 token 序列。
//
// - stripSubtitle：去掉冒号/破折号之后的副标题（搜索相关性靠主标题，副标题是噪音）
// - stripJoiners：剔除 "the"/"and" 等连接词（匹配阶段用；构造查询时保留全文）
func TitleTokens(title string, stripJoiners, stripSubtitle bool) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	if stripSubtitle {
		title = cutSubtitle(title)
	}

	var out []string
	for _, raw := range splitWords(title) {
		tok := Fold(raw)
		if tok == "" {
			continue
		}
		if stripJoiners {
			if _, ok := joiners[tok]; ok {
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// AuthorTokens 把作者列表切成 token 序列。
// onlyFirst 时只取第一个作者（搜索查询用；详情页比对用全部作者）。
// "姓, 名" 形态会被换序，使 token 顺序接近站点展示顺序。
func AuthorTokens(authors []string, onlyFirst bool) []string {
	if len(authors) == 0 {
		return nil
	}
	if onlyFirst {
		authors = authors[:1]
	}

	var out []string
	for _, au := range authors {
		au = strings.TrimSpace(au)
		if au == "" {
			continue
		}
		parts := splitWords(au)
		if strings.Contains(au, ",") && len(parts) > 1 {
			// "Butcher, Jim" -> "Jim Butcher"
			parts = append(parts[1:], parts[0])
		}
		for _, raw := range parts {
			tok := Fold(raw)
			// 单字符/双字符多为缩写首字母，对搜索召回没有帮助。
			if len(tok) <= 2 {
				continue
			}
			if _, ok := authorStop[tok]; ok {
				continue
			}
			out = append(out, tok)
		}
	}
	return out
}

// cutSubtitle 去掉第一个副标题分隔符之后的内容。
// 分隔符：冒号、全角冒号、em/en 破折号、以及空格包围的 "-"。
func cutSubtitle(s string) string {
	cut := len(s)
	for _, sep := range []string{":", "：", "—", "–", " - "} {
		if i := strings.Index(s, sep); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(s[:cut])
}

// splitWords 按“非字母数字”切词（保留任意语言的字母）。
// '&' 单独保留：它在 joiners 判定里有意义。
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if r == '&' {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
