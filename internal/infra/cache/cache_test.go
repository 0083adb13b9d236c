package cache

import (
	"sync"
	"testing"
)

func TestCovers_SetAndGet(t *testing.T) {
	c := NewCovers()

	if _, ok := c.CoverURL("turn-coat-1"); ok {
		t.Fatalf("空缓存不应命中")
	}

	c.SetCoverURL("turn-coat-1", " https://img.example/turn-coat.jpg ")
	u, ok := c.CoverURL("turn-coat-1")
	if !ok || u != "https://img.example/turn-coat.jpg" {
		t.Fatalf("期望命中且去除空白，实际 ok=%v u=%q", ok, u)
	}

	c.SetKoboID("9780748111824", "turn-coat-1")
	id, ok := c.KoboID("9780748111824")
	if !ok || id != "turn-coat-1" {
		t.Fatalf("期望 ISBN 映射命中，实际 ok=%v id=%q", ok, id)
	}
}

func TestCovers_IgnoresEmpty(t *testing.T) {
	c := NewCovers()
	c.SetCoverURL("", "https://img.example/x.jpg")
	c.SetCoverURL("some-id", "   ")
	c.SetKoboID("", "some-id")
	c.SetKoboID("9780748111824", "")

	if _, ok := c.CoverURL("some-id"); ok {
		t.Fatalf("空 URL 不应入缓存")
	}
	if _, ok := c.KoboID("9780748111824"); ok {
		t.Fatalf("空 ID 不应入缓存")
	}
}

func TestCovers_ConcurrentAccess(t *testing.T) {
	c := NewCovers()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SetCoverURL("id-1", "https://img.example/1.jpg")
			c.SetKoboID("9780748111824", "id-1")
			_, _ = c.CoverURL("id-1")
			_, _ = c.KoboID("9780748111824")
		}()
	}
	wg.Wait()

	if u, ok := c.CoverURL("id-1"); !ok || u == "" {
		t.Fatalf("并发写入后应命中，实际 ok=%v u=%q", ok, u)
	}
}
