package domain

// Identifiers 是“识别方案名 -> 值”的只读映射（例如 "isbn"、"kobo"）。
// 方案名区分大小写；由调用方提供，核心流程只读不改。
type Identifiers map[string]string

// Get 返回指定方案的值（去除首尾空白后为空视为缺失）。
func (ids Identifiers) Get(scheme string) (string, bool) {
	if ids == nil {
		return "", false
	}
	v, ok := ids[scheme]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// BookMeta 是详情页解析得到的结构化元数据（最小可用集）。
//
// 约束：
// - Website 必须写入详情页 URL（也是来源标记）
// - 字段缺失允许为空；Rating==0 / SeriesIndex==0 表示缺失
// - Comments 允许携带 HTML（站点简介本身是富文本）
type BookMeta struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`

	Identifiers Identifiers `json:"identifiers,omitempty"`

	Rating    float64  `json:"rating,omitempty"` // 0~5，0 表示缺失
	Languages []string `json:"languages,omitempty"`
	Comments  string   `json:"comments,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	PubDate   string   `json:"pubdate,omitempty"` // ISO date, e.g. "2009-04-07"

	Series      string  `json:"series,omitempty"`
	SeriesIndex float64 `json:"series_index,omitempty"`

	Tags []string `json:"tags,omitempty"`

	Website  string `json:"website,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// Candidate 是搜索/直达产生的一条候选（详情页 URL + 可选 publisher 提示）。
// 本层不去重：重复候选由下游解析与排序自然消化。
type Candidate struct {
	URL       string
	Publisher string
}
