package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/changhuapeng/KoboBooks/internal/domain"
)

// Provider 把“站点变化”限制在 provider 包内部；核心流程只依赖统一接口与稳定的 BookMeta。
//
// 约束：
// - CreateQuery / ParseSearchResults / 解析详情页都必须是纯函数或只做单次抓取
// - 缓存、重试、限速由核心 http 层统一实现，provider 不做
// - FetchBook 返回的 BookMeta.Website 必须是详情页 URL（用于来源追溯与 ID 提取）
type Provider interface {
	Name() string

	// BookURL 返回站点 ID 对应的规范详情页 URL（直达捷径用）。
	BookURL(id domain.KoboID) string

	// CreateQuery 构造搜索 URL。ok=false 表示“无法构造查询”（输入不足，不算错误）。
	CreateQuery(title string, authors []string, ids domain.Identifiers) (query string, ok bool)

	// IsSearchResultURL 判断 u 是否仍指向搜索端点。
	// ISBN 搜索可能被站点直接重定向到详情页；重定向后该函数返回 false。
	IsSearchResultURL(u string) bool

	// ParseSearchResults 把搜索结果页解析为候选列表（按文档顺序，至多 max 条）。
	// 单条结构异常只跳过该条，不影响整页解析。
	ParseSearchResults(html []byte, origTitle string, max int) ([]domain.Candidate, error)

	// FetchBook 抓取并解析一条候选的详情页。
	// authorTokens 非空时做更严格的作者比对，不匹配视为解析失败。
	FetchBook(ctx context.Context, c *http.Client, cand domain.Candidate, authorTokens []string) (domain.BookMeta, error)
}

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch / parse，并决定日志级别。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
