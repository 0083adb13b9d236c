package identify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/infra/cache"
	"github.com/changhuapeng/KoboBooks/internal/infra/httpx"
	"github.com/changhuapeng/KoboBooks/internal/isbn"
	"github.com/changhuapeng/KoboBooks/internal/provider"
	"github.com/changhuapeng/KoboBooks/internal/tokenize"
)

const (
	// maxSearchResults 是一次搜索最多保留的候选数。
	maxSearchResults = 5
	// launchStagger 是相邻 worker 启动之间的间隔（避免瞬时并发打爆站点触发限流）。
	launchStagger = 100 * time.Millisecond
)

// Source 是解析调用的顶层协调者。
//
// 约束：
// - 字段全部由调用方注入：没有进程级单例，也没有模块级可变状态
// - 结果通道与取消信号（ctx）由调用方拥有，Source 只使用不持有
// - 同一个 Source 可安全地用于多次调用（Covers 缓存跨调用累积）
type Source struct {
	Provider provider.Provider
	Client   *http.Client // 搜索页/详情页抓取
	Images   *http.Client // 封面字节下载
	Covers   *cache.Covers
	Log      zerolog.Logger
}

// Query 是一次解析的输入（字段全部可选，但至少要凑得出一条可用查询）。
type Query struct {
	Title       string
	Authors     []string
	Identifiers domain.Identifiers
}

// Identify 解析元数据，把记录推入 out，返回后不再写入。
//
// 结果约定（三分，不用异常做控制流）：
// - nil 且有记录：成功（记录到达顺序无保证，调用方自行排序）
// - nil 且无记录：被取消（取消是干净终止，不是失败）
// - 非 nil：输入不足 / 搜索抓取失败 / 确认无匹配
//
// worker 级失败（单条候选抓取/解析失败）不会出现在返回值里：
// 只记日志，该候选没有记录而已。
func (s *Source) Identify(ctx context.Context, q Query, out chan<- domain.BookMeta) error {
	cands, err := s.findCandidates(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	if len(cands) == 0 && len(q.Identifiers) > 0 &&
		strings.TrimSpace(q.Title) != "" && len(q.Authors) > 0 {
		// 放宽重试：调用方给的 ID/ISBN 可能过期或有误，把 identifiers 丢掉，
		// 只用标题+作者再搜一次。只放宽这一层——输入病态时不无限退化。
		s.Log.Info().Msg("无匹配，放弃 identifiers 仅用标题/作者重试")
		relaxed := q
		relaxed.Identifiers = nil
		cands, err = s.findCandidates(ctx, relaxed)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if len(cands) == 0 {
		return errors.New("未找到匹配结果")
	}

	s.fanOut(ctx, q, cands, out)
	return nil
}

// findCandidates 产出一次尝试的候选列表。
// 调用方负责区分“空列表”（可重试/无匹配）与错误（输入不足/抓取失败）。
func (s *Source) findCandidates(ctx context.Context, q Query) ([]domain.Candidate, error) {
	// 直达捷径：已知站点 ID 时不再搜索（省掉一次容易失败的往返，
	// 站点 ID 本身就指向唯一详情页）。
	if raw, ok := q.Identifiers.Get(s.Provider.Name()); ok {
		if id, valid := domain.ParseKoboID(raw); valid {
			return []domain.Candidate{{URL: s.Provider.BookURL(id)}}, nil
		}
	}

	query, ok := s.Provider.CreateQuery(q.Title, q.Authors, q.Identifiers)
	if !ok {
		return nil, errors.New("元数据不足，无法构造搜索查询")
	}

	s.Log.Info().Str("url", query).Msg("发起搜索")
	body, finalURL, err := httpx.Fetch(ctx, s.Client, query)
	if err != nil {
		s.Log.Warn().Err(err).Str("url", query).Msg("搜索请求失败")
		return nil, fmt.Errorf("搜索请求失败：%w", err)
	}

	// ISBN 搜索特例：命中唯一一本书时站点会把搜索请求直接重定向到详情页。
	// 此时结果页不存在，最终 URL 本身就是唯一候选。
	if hasValidISBN(q.Identifiers) && !s.Provider.IsSearchResultURL(finalURL) {
		return []domain.Candidate{{URL: finalURL}}, nil
	}

	cands, err := s.Provider.ParseSearchResults(body, q.Title, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("解析搜索结果失败：%w", err)
	}
	return cands, nil
}

// fanOut 为每条候选启动一个 worker，全部结束后返回。
//
// - 相邻启动错开 launchStagger，避免对站点的瞬时并发
// - 取消语义是协作式的：worker 的网络请求都绑定 ctx，
//   取消后等待是有界的（至多一个进行中的请求超时/中断）
func (s *Source) fanOut(ctx context.Context, q Query, cands []domain.Candidate, out chan<- domain.BookMeta) {
	// 详情页比对用全部作者 token（比搜索查询的“只取第一作者”更严格）。
	authorTokens := tokenize.AuthorTokens(q.Authors, false)

	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range cands {
		if i > 0 {
			select {
			case <-time.After(launchStagger):
			case <-gctx.Done():
			}
		}
		if gctx.Err() != nil {
			break
		}
		i, cand := i, cand
		g.Go(func() error {
			s.runWorker(gctx, i, cand, authorTokens, out)
			return nil
		})
	}
	_ = g.Wait()
}

// runWorker 处理一条候选。失败不越过 worker 边界：记录日志后吞掉。
func (s *Source) runWorker(ctx context.Context, idx int, cand domain.Candidate, authorTokens []string, out chan<- domain.BookMeta) {
	if ctx.Err() != nil {
		return
	}

	meta, err := s.Provider.FetchBook(ctx, s.Client, cand, authorTokens)
	if err != nil {
		ev := s.Log.Debug().Int("worker", idx).Str("url", cand.URL)
		var pe *provider.Error
		if errors.As(err, &pe) {
			ev = ev.Str("stage", pe.Stage)
		}
		ev.Err(err).Msg("候选解析失败")
		return
	}

	s.remember(meta)
	select {
	case out <- meta:
	case <-ctx.Done():
	}
}

// remember 把解析结果写入会话缓存（封面解析的缓存命中路径依赖这里）。
func (s *Source) remember(m domain.BookMeta) {
	if s.Covers == nil {
		return
	}
	raw, ok := m.Identifiers.Get(s.Provider.Name())
	if !ok {
		return
	}
	id, valid := domain.ParseKoboID(raw)
	if !valid {
		return
	}
	s.Covers.SetCoverURL(id, m.CoverURL)
	if v, ok := m.Identifiers.Get("isbn"); ok {
		s.Covers.SetKoboID(v, id)
	}
}

func hasValidISBN(ids domain.Identifiers) bool {
	raw, ok := ids.Get("isbn")
	if !ok {
		return false
	}
	_, valid := isbn.Check(raw)
	return valid
}
