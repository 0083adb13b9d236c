// Package cache 提供一次解析会话内的封面映射缓存。
package cache

import (
	"strings"
	"sync"

	"github.com/changhuapeng/KoboBooks/internal/domain"
)

// Covers 持有两张只增不删的小映射：
// - 站点 ID -> 封面 URL
// - ISBN   -> 站点 ID
//
// 约束：
// - 生命周期由调用方掌握（通常跨多次 identify，但不跨进程；不落盘）
// - 并发安全：worker 边解析边写入，封面下载端并发读取
type Covers struct {
	mu        sync.RWMutex
	coverByID map[domain.KoboID]string
	idByISBN  map[string]domain.KoboID
}

func NewCovers() *Covers {
	return &Covers{
		coverByID: make(map[domain.KoboID]string),
		idByISBN:  make(map[string]domain.KoboID),
	}
}

// CoverURL 返回站点 ID 对应的封面 URL（未知返回 false）。
func (c *Covers) CoverURL(id domain.KoboID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.coverByID[id]
	return u, ok
}

// KoboID 返回 ISBN 对应的站点 ID（未知返回 false）。
func (c *Covers) KoboID(isbn string) (domain.KoboID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.idByISBN[isbn]
	return id, ok
}

// SetCoverURL 记录站点 ID -> 封面 URL。空值直接忽略（缓存里不存“无封面”）。
func (c *Covers) SetCoverURL(id domain.KoboID, url string) {
	if id == "" || strings.TrimSpace(url) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coverByID[id] = strings.TrimSpace(url)
}

// SetKoboID 记录 ISBN -> 站点 ID。空值直接忽略。
func (c *Covers) SetKoboID(isbn string, id domain.KoboID) {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" || id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idByISBN[isbn] = id
}
