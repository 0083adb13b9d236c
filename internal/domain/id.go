package domain

import (
	"regexp"
	"strings"
)

// KoboID 是站点自有的作品主键（详情页 URL 的末段 slug，
// 规范化后形如 "across-the-sea-of-suns-1"）。
//
// 约束：要么得到合法 ID，要么失败；宁可放弃直达，也不允许拼出错误的详情页 URL。
type KoboID string

// slug 只允许小写字母/数字/连字符，且不以连字符开头结尾。
var koboIDRE = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ParseKoboID 校验并解析 slug 形态的站点 ID。
// 输入允许带空白；大小写不做自动归一（站点 URL 本身区分）。
func ParseKoboID(s string) (KoboID, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !koboIDRE.MatchString(s) {
		return "", false
	}
	return KoboID(s), true
}

// 详情页 URL 的两种形态：
// - 通用：  https://<host>/ebook/<id>
// - 区域化：https://<host>/<cc>/<lang>/ebook/<id>（例如 /au/en/ebook/...）
var (
	bookURLGenericRE  = regexp.MustCompile(`^https?://[^/]+/ebook/([^/?#]+)`)
	bookURLNationalRE = regexp.MustCompile(`^https?://[^/]+/[a-z]{2}/[a-z]{2}/ebook/([^/?#]+)`)
)

// IDFromURL 从详情页 URL 中提取站点 ID。
// 先尝试通用形态，再尝试区域化形态；都不匹配返回 false。
func IDFromURL(rawURL string) (KoboID, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	// 区域化形态优先：通用正则会把 "/au/en/ebook/x" 误判为不含 /ebook/ 前缀的路径，
	// 但反过来 "/ebook/x" 不可能被区域化正则命中，先查更具体的不会错。
	if m := bookURLNationalRE.FindStringSubmatch(rawURL); m != nil {
		return ParseKoboID(m[1])
	}
	if m := bookURLGenericRE.FindStringSubmatch(rawURL); m != nil {
		return ParseKoboID(m[1])
	}
	return "", false
}
