package identify

import (
	"context"

	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/infra/httpx"
	"github.com/changhuapeng/KoboBooks/internal/infra/imgx"
	"github.com/changhuapeng/KoboBooks/internal/isbn"
	"github.com/changhuapeng/KoboBooks/internal/rank"
)

// Cover 是封面下载的产物：来源 URL + 原始图片字节。
type Cover struct {
	URL  string
	Data []byte
}

// DownloadCover 解析并下载封面，成功时把字节推入 out。
//
// 与 Identify 不同，这里没有错误返回值：“没有封面”是常见合法结果，
// 下载失败也不应打断调用方的整体流程，诊断信息只进日志。
// 缓存未命中时内部先走一轮 Identify 填充缓存。
func (s *Source) DownloadCover(ctx context.Context, q Query, out chan<- Cover) {
	coverURL := s.cachedCoverURL(q.Identifiers)
	if coverURL == "" {
		s.Log.Info().Msg("缓存未命中封面，先执行 identify")
		// 私有缓冲通道：worker 推完即返回，Identify 结束后一次性排空。
		rq := make(chan domain.BookMeta, 2*maxSearchResults)
		if err := s.Identify(ctx, q, rq); err != nil {
			s.Log.Warn().Err(err).Msg("identify 失败，无法解析封面")
			return
		}
		if ctx.Err() != nil {
			return
		}
		records := drain(rq)
		// 统一相关性排序后取第一条缓存里有封面的记录。
		rank.Sort(records, q.Title, q.Authors, q.Identifiers)
		for _, m := range records {
			if u := s.cachedCoverURL(m.Identifiers); u != "" {
				coverURL = u
				break
			}
		}
	}
	if coverURL == "" {
		s.Log.Info().Msg("未找到可用封面")
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.Log.Info().Str("url", coverURL).Msg("下载封面")
	data, _, err := httpx.Fetch(ctx, s.Images, coverURL)
	if err != nil {
		s.Log.Warn().Err(err).Str("url", coverURL).Msg("封面下载失败")
		return
	}
	if _, err := imgx.SniffCover(data); err != nil {
		s.Log.Warn().Err(err).Str("url", coverURL).Msg("封面校验失败")
		return
	}

	select {
	case out <- Cover{URL: coverURL, Data: data}:
	case <-ctx.Done():
	}
}

// cachedCoverURL 先按站点 ID 直查，再经 ISBN -> 站点 ID 间接查。
func (s *Source) cachedCoverURL(ids domain.Identifiers) string {
	if s.Covers == nil {
		return ""
	}
	var id domain.KoboID
	if raw, ok := ids.Get(s.Provider.Name()); ok {
		if v, valid := domain.ParseKoboID(raw); valid {
			id = v
		}
	}
	if id == "" {
		if raw, ok := ids.Get("isbn"); ok {
			if v, valid := isbn.Check(raw); valid {
				if mapped, ok := s.Covers.KoboID(v); ok {
					id = mapped
				}
			}
		}
	}
	if id == "" {
		return ""
	}
	u, _ := s.Covers.CoverURL(id)
	return u
}

// drain 非阻塞排空：Identify 返回后通道不再有写入，缓冲里即全部记录。
func drain(ch chan domain.BookMeta) []domain.BookMeta {
	var out []domain.BookMeta
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}
