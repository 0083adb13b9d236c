package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// 分类（category）breadcrumb 的三种处理方式。
const (
	CategoryTopLevelOnly   = "top_level_only"  // 只取顶层分类
	CategoryHierarchy      = "hierarchy"       // 整条层级拼成一个 tag（"Fiction > Science Fiction"）
	CategoryIndividualTags = "individual_tags" // 每一层各成一个 tag
)

const (
	// DefaultBaseURL 是站点默认域名；区域镜像可通过 base_url 切换。
	DefaultBaseURL = "https://www.kobo.com"
	// DefaultCategoryHandling 是分类处理的默认值。
	DefaultCategoryHandling = CategoryIndividualTags
	// DefaultTimeoutSeconds 是单次网络请求的默认超时（秒）。
	DefaultTimeoutSeconds = 30
)

// CLIArgs 只包含 CLI 暴露的可覆盖项，并保留“是否显式指定”的信息，
// 保证覆盖优先级可实现（例如 --timeout 必须能覆盖配置文件的 timeout_seconds）。
type CLIArgs struct {
	CategoryHandling    string
	CategoryHandlingSet bool

	TimeoutSeconds    int
	TimeoutSecondsSet bool
}

// FileConfig 对应 kobobooks.json 的解析结构。
// 文件可选：不存在时全部取默认值。
type FileConfig struct {
	BaseURL          string       `json:"base_url"`
	CategoryHandling string       `json:"category_handling"`
	TimeoutSeconds   int          `json:"timeout_seconds"`
	Proxy            *ProxyConfig `json:"proxy"`
	ImageProxy       bool         `json:"image_proxy"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置
//（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// BaseURL 允许在 www.kobo.com 不可达时切换到区域镜像域名（可选）。
	// 仅通过 kobobooks.json 配置，不暴露 CLI 参数。
	BaseURL string

	CategoryHandling string
	TimeoutSeconds   int

	ProxyURL   string
	ImageProxy bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
	}
	return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取 <cwd>/kobobooks.json（可选），与 CLI 参数合并为最终配置。
//
// 覆盖优先级（固定）：
// - category_handling / timeout：CLI > config > 默认
// - base_url / proxy / image_proxy：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cfgPath := filepath.Join(cwd, "kobobooks.json")
	fc, _, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return merge(cli, fc, cfgPath)
}

func merge(cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	catHandling := DefaultCategoryHandling
	if cli.CategoryHandlingSet {
		catHandling = cli.CategoryHandling
	} else if strings.TrimSpace(fc.CategoryHandling) != "" {
		catHandling = fc.CategoryHandling
	}
	if err := validateCategoryHandling(catHandling); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	timeout := DefaultTimeoutSeconds
	if cli.TimeoutSecondsSet {
		timeout = cli.TimeoutSeconds
	} else if fc.TimeoutSeconds != 0 {
		timeout = fc.TimeoutSeconds
	}
	// 范围建议 [1, 300]；超出截断。
	if timeout < 1 {
		timeout = 1
	}
	if timeout > 300 {
		timeout = 300
	}

	baseURL := strings.TrimSpace(fc.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	} else {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("base_url 无效：%q", baseURL)}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("base_url 必须是 http/https：%q", baseURL)}
		}
		baseURL = strings.TrimRight(baseURL, "/")
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("proxy.url 无效：%w", err)}
		}
	}
	if fc.ImageProxy && proxyURL == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("image_proxy=true 但 proxy.url 为空")}
	}

	return EffectiveConfig{
		BaseURL:          baseURL,
		CategoryHandling: catHandling,
		TimeoutSeconds:   timeout,
		ProxyURL:         proxyURL,
		ImageProxy:       fc.ImageProxy,
	}, nil
}

func validateCategoryHandling(v string) error {
	switch v {
	case CategoryTopLevelOnly, CategoryHierarchy, CategoryIndividualTags:
		return nil
	case "":
		return fmt.Errorf("category_handling 不能为空")
	default:
		return fmt.Errorf("category_handling 只能是 %s/%s/%s，实际是 %q",
			CategoryTopLevelOnly, CategoryHierarchy, CategoryIndividualTags, v)
	}
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
