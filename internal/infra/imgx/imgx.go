package imgx

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"  // 注册 GIF 解码器
	_ "image/jpeg" // 注册 JPEG 解码器
	_ "image/png"  // 注册 PNG 解码器（封面不一定总是 jpeg）
)

// minCoverEdge 是封面可接受的最小边长：站点的错误占位图/追踪像素都远小于它。
const minCoverEdge = 50

// SniffCover 校验下载到的字节确实是一张可用的封面图片，返回格式名。
//
// 站点在封面 URL 失效时可能返回 HTML 错误页（HTTP 200），
// 这里只解码图片头（DecodeConfig），不做整图解码。
func SniffCover(data []byte) (format string, err error) {
	if len(data) == 0 {
		return "", errors.New("封面数据为空")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", errors.New("封面数据不是可识别的图片（可能是站点错误页）")
	}
	if cfg.Width < minCoverEdge || cfg.Height < minCoverEdge {
		return "", errors.New("图片尺寸过小，不是有效封面")
	}
	return format, nil
}
