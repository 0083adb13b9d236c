// Package opf 把 BookMeta 编码为 OPF 2.0 元数据文档（calibre 兼容）。
package opf

import (
	"encoding/xml"
	"errors"
	"strconv"
	"strings"

	"github.com/changhuapeng/KoboBooks/internal/domain"
)

type pkg struct {
	XMLName  xml.Name `xml:"package"`
	Xmlns    string   `xml:"xmlns,attr"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`

	Metadata metadata `xml:"metadata"`
}

type metadata struct {
	XmlnsDC  string `xml:"xmlns:dc,attr"`
	XmlnsOPF string `xml:"xmlns:opf,attr"`

	Title       string       `xml:"dc:title"`
	Creators    []creator    `xml:"dc:creator,omitempty"`
	Identifiers []identifier `xml:"dc:identifier"`
	Publisher   string       `xml:"dc:publisher,omitempty"`
	Date        string       `xml:"dc:date,omitempty"`
	Languages   []string     `xml:"dc:language,omitempty"`
	Description string       `xml:"dc:description,omitempty"`
	Subjects    []string     `xml:"dc:subject,omitempty"`

	Meta []metaEntry `xml:"meta,omitempty"`
}

type creator struct {
	Role string `xml:"opf:role,attr"`
	Name string `xml:",chardata"`
}

type identifier struct {
	Scheme string `xml:"opf:scheme,attr,omitempty"`
	ID     string `xml:"id,attr,omitempty"`
	Value  string `xml:",chardata"`
}

type metaEntry struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

// Encode 把 BookMeta 转成 calibre 可导入的 OPF 2.0 文档。
//
// 规则：
// - 字段缺失允许为空；输出结构尽量稳定（去空白、去重、保持输入顺序）
// - title 为空视为错误（OPF 的 dc:title 是必填元素）
// - 评分按 calibre 习惯换算为 0~10
func Encode(meta domain.BookMeta) ([]byte, error) {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		return nil, errors.New("缺少标题，无法生成 OPF")
	}

	m := metadata{
		XmlnsDC:  "http://purl.org/dc/elements/1.1/",
		XmlnsOPF: "http://www.idpf.org/2007/opf",

		Title:       title,
		Publisher:   strings.TrimSpace(meta.Publisher),
		Date:        strings.TrimSpace(meta.PubDate),
		Languages:   normList(meta.Languages),
		Description: strings.TrimSpace(meta.Comments),
		Subjects:    normList(meta.Tags),
	}

	for _, a := range normList(meta.Authors) {
		m.Creators = append(m.Creators, creator{Role: "aut", Name: a})
	}

	// unique-identifier 优先指向站点 ID，缺失时退到 ISBN。
	uniqueID := ""
	if v, ok := meta.Identifiers.Get("kobo"); ok {
		m.Identifiers = append(m.Identifiers, identifier{Scheme: "KOBO", ID: "kobo_id", Value: v})
		uniqueID = "kobo_id"
	}
	if v, ok := meta.Identifiers.Get("isbn"); ok {
		id := identifier{Scheme: "ISBN", Value: v}
		if uniqueID == "" {
			id.ID = "isbn_id"
			uniqueID = "isbn_id"
		}
		m.Identifiers = append(m.Identifiers, id)
	}
	if uniqueID == "" {
		return nil, errors.New("缺少标识符，无法生成 OPF")
	}

	if s := strings.TrimSpace(meta.Series); s != "" {
		m.Meta = append(m.Meta, metaEntry{Name: "calibre:series", Content: s})
		if meta.SeriesIndex > 0 {
			m.Meta = append(m.Meta, metaEntry{
				Name:    "calibre:series_index",
				Content: strconv.FormatFloat(meta.SeriesIndex, 'f', -1, 64),
			})
		}
	}
	if meta.Rating > 0 {
		m.Meta = append(m.Meta, metaEntry{
			Name:    "calibre:rating",
			Content: strconv.FormatFloat(meta.Rating*2, 'f', -1, 64),
		})
	}

	doc := pkg{
		Xmlns:    "http://www.idpf.org/2007/opf",
		Version:  "2.0",
		UniqueID: uniqueID,
		Metadata: m,
	}

	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"
	return append([]byte(header), b...), nil
}

func normList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
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
