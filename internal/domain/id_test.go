package domain

import "testing"

func TestParseKoboID(t *testing.T) {
	id, ok := ParseKoboID("  across-the-sea-of-suns-1 ")
	if !ok || id != "across-the-sea-of-suns-1" {
		t.Fatalf("期望解析成功，实际 ok=%v id=%q", ok, id)
	}

	for _, s := range []string{
		"",
		"-leading-hyphen",
		"trailing-hyphen-",
		"double--hyphen",
		"Upper-Case",
		"has space",
		"слово",
	} {
		if _, ok := ParseKoboID(s); ok {
			t.Fatalf("期望 %q 判定为非法 ID", s)
		}
	}
}

func TestIDFromURL_Generic(t *testing.T) {
	id, ok := IDFromURL("https://www.kobo.com/ebook/across-the-sea-of-suns-1?utm=x")
	if !ok || id != "across-the-sea-of-suns-1" {
		t.Fatalf("期望提取成功，实际 ok=%v id=%q", ok, id)
	}
}

func TestIDFromURL_National(t *testing.T) {
	id, ok := IDFromURL("https://www.kobo.com/au/en/ebook/turn-coat-1")
	if !ok || id != "turn-coat-1" {
		t.Fatalf("期望区域化 URL 提取成功，实际 ok=%v id=%q", ok, id)
	}
}

func TestIDFromURL_NotBookPage(t *testing.T) {
	for _, u := range []string{
		"",
		"https://www.kobo.com/search?query=x",
		"https://www.kobo.com/au/en/audiobook/something",
		"not a url",
	} {
		if _, ok := IDFromURL(u); ok {
			t.Fatalf("期望 %q 提取失败", u)
		}
	}
}
