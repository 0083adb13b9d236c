package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/changhuapeng/KoboBooks/internal/app/identify"
	"github.com/changhuapeng/KoboBooks/internal/config"
	"github.com/changhuapeng/KoboBooks/internal/domain"
	"github.com/changhuapeng/KoboBooks/internal/infra/cache"
	"github.com/changhuapeng/KoboBooks/internal/infra/fsx"
	"github.com/changhuapeng/KoboBooks/internal/infra/httpx"
	"github.com/changhuapeng/KoboBooks/internal/opf"
	"github.com/changhuapeng/KoboBooks/internal/provider/kobo"
	"github.com/changhuapeng/KoboBooks/internal/rank"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "identify":
		if code := identifyCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "cover":
		if code := coverCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// queryArgs 是两个子命令共享的查询输入与覆盖项。
type queryArgs struct {
	Title   string
	Authors []string
	ISBN    string
	KoboID  string

	Category    string
	CategorySet bool
	Timeout     int
	TimeoutSet  bool
	Debug       bool
}

func (qa queryArgs) query() identify.Query {
	ids := domain.Identifiers{}
	if qa.ISBN != "" {
		ids["isbn"] = qa.ISBN
	}
	if qa.KoboID != "" {
		ids["kobo"] = qa.KoboID
	}
	if len(ids) == 0 {
		ids = nil
	}
	return identify.Query{Title: qa.Title, Authors: qa.Authors, Identifiers: ids}
}

func identifyCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printIdentifyUsage()
			return 0
		}
	}

	qa, rest, err := parseQueryArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printIdentifyUsage()
		return 2
	}
	opfDir := ""
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "--opf":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "参数错误：--opf 需要一个目录")
				return 2
			}
			i++
			opfDir = rest[i]
		case strings.HasPrefix(rest[i], "--opf="):
			opfDir = strings.TrimPrefix(rest[i], "--opf=")
		default:
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n\n", rest[i])
			printIdentifyUsage()
			return 2
		}
	}

	src, log, err := buildSource(qa)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := qa.query()
	recs := collectIdentify(ctx, src, q)
	if recs.err != nil {
		log.Error().Err(recs.err).Msg("identify 失败")
		return 1
	}
	rank.Sort(recs.records, q.Title, q.Authors, q.Identifiers)

	if opfDir != "" {
		if err := writeOPFFiles(opfDir, recs.records, log); err != nil {
			log.Error().Err(err).Msg("写入 OPF 失败")
			return 1
		}
	}

	emitRecords(recs.records)
	if len(recs.records) == 0 && ctx.Err() != nil {
		// 被中断：无结果但不算失败。
		return 130
	}
	return 0
}

func coverCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printCoverUsage()
			return 0
		}
	}

	qa, rest, err := parseQueryArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printCoverUsage()
		return 2
	}
	outPath := ""
	for i := 0; i < len(rest); i++ {
		switch {
		case rest[i] == "--out":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "参数错误：--out 需要一个路径")
				return 2
			}
			i++
			outPath = rest[i]
		case strings.HasPrefix(rest[i], "--out="):
			outPath = strings.TrimPrefix(rest[i], "--out=")
		default:
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n\n", rest[i])
			printCoverUsage()
			return 2
		}
	}
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "参数错误：cover 需要 --out <路径>")
		return 2
	}

	src, log, err := buildSource(qa)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan identify.Cover, 1)
	src.DownloadCover(ctx, qa.query(), ch)
	select {
	case c := <-ch:
		err := fsx.WriteFileAtomicNoOverwrite(filepath.Dir(outPath), filepath.Base(outPath), c.Data)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				log.Error().Str("path", outPath).Msg("目标文件已存在，不覆盖")
			} else {
				log.Error().Err(err).Msg("写入封面失败")
			}
			return 1
		}
		log.Info().Str("path", outPath).Str("url", c.URL).Int("bytes", len(c.Data)).Msg("封面已保存")
		return 0
	default:
		if ctx.Err() != nil {
			return 130
		}
		// 诊断信息已由 DownloadCover 记入日志。
		return 1
	}
}

// collectResult 汇总一次 identify 的全部记录。
type collectResult struct {
	records []domain.BookMeta
	err     error
}

func collectIdentify(ctx context.Context, src *identify.Source, q identify.Query) collectResult {
	ch := make(chan domain.BookMeta, 8)
	done := make(chan struct{})
	var records []domain.BookMeta
	go func() {
		defer close(done)
		for m := range ch {
			records = append(records, m)
		}
	}()
	err := src.Identify(ctx, q, ch)
	close(ch)
	<-done
	return collectResult{records: records, err: err}
}

func buildSource(qa queryArgs) (*identify.Source, zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if qa.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, log, fmt.Errorf("读取当前目录失败：%w", err)
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		CategoryHandling:    qa.Category,
		CategoryHandlingSet: qa.CategorySet,
		TimeoutSeconds:      qa.Timeout,
		TimeoutSecondsSet:   qa.TimeoutSet,
	})
	if err != nil {
		return nil, log, err
	}

	timeout := time.Duration(eff.TimeoutSeconds) * time.Second
	client, err := httpx.NewMetaClient(eff.ProxyURL, timeout)
	if err != nil {
		return nil, log, err
	}
	images, err := httpx.NewImageClient(eff.ProxyURL, eff.ImageProxy, timeout)
	if err != nil {
		return nil, log, err
	}

	return &identify.Source{
		Provider: kobo.Provider{BaseURL: eff.BaseURL, CategoryHandling: eff.CategoryHandling},
		Client:   client,
		Images:   images,
		Covers:   cache.NewCovers(),
		Log:      log,
	}, log, nil
}

func parseQueryArgs(args []string) (queryArgs, []string, error) {
	qa := queryArgs{}
	var rest []string

	take := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s 需要一个值", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		name, inline, hasInline := strings.Cut(a, "=")
		v := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			return take(&i, name)
		}
		switch name {
		case "--title":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			qa.Title = s
		case "--authors":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			for _, a := range strings.Split(s, ",") {
				if a = strings.TrimSpace(a); a != "" {
					qa.Authors = append(qa.Authors, a)
				}
			}
		case "--isbn":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			qa.ISBN = strings.TrimSpace(s)
		case "--kobo":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			qa.KoboID = strings.TrimSpace(s)
		case "--category":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			qa.Category = s
			qa.CategorySet = true
		case "--timeout":
			s, err := v()
			if err != nil {
				return queryArgs{}, nil, err
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return queryArgs{}, nil, fmt.Errorf("--timeout 必须是整数秒，实际是 %q", s)
			}
			qa.Timeout = n
			qa.TimeoutSet = true
		case "--debug":
			if hasInline {
				return queryArgs{}, nil, fmt.Errorf("--debug 不接受值")
			}
			qa.Debug = true
		default:
			rest = append(rest, a)
		}
	}
	return qa, rest, nil
}

// emitRecords 遵循输出契约：stdout 非 TTY 时只输出一个 JSON 数组；
// TTY 时输出人类可读的摘要行（日志始终走 stderr）。
func emitRecords(records []domain.BookMeta) {
	if !isTTY(os.Stdout) {
		if records == nil {
			records = []domain.BookMeta{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(records)
		return
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "没有结果")
		return
	}
	for _, m := range records {
		line := m.Title
		if len(m.Authors) > 0 {
			line += " / " + strings.Join(m.Authors, ", ")
		}
		if id, ok := m.Identifiers.Get("kobo"); ok {
			line += "  [" + id + "]"
		}
		fmt.Fprintln(os.Stdout, line)
	}
}

func writeOPFFiles(dir string, records []domain.BookMeta, log zerolog.Logger) error {
	for _, m := range records {
		b, err := opf.Encode(m)
		if err != nil {
			// 缺标识符等个别记录不可编码：跳过，不放大为整体失败。
			log.Warn().Err(err).Str("title", m.Title).Msg("跳过 OPF 输出")
			continue
		}
		name := "metadata.opf"
		if id, ok := m.Identifiers.Get("kobo"); ok {
			name = id + ".opf"
		}
		if err := fsx.WriteFileAtomicReplace(dir, name, b); err != nil {
			return err
		}
		log.Info().Str("path", filepath.Join(dir, name)).Msg("OPF 已写入")
	}
	return nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  kobobooks identify [--title T] [--authors A,B] [--isbn N] [--kobo ID] [--opf 目录]
  kobobooks cover    [--title T] [--authors A,B] [--isbn N] [--kobo ID] --out 路径

命令：
  identify  解析元数据（stdout 输出 JSON 数组；TTY 下输出摘要行）
  cover     解析并下载封面到 --out 指定路径

使用 "kobobooks <命令> --help" 查看详细说明。
`)
}

func printIdentifyUsage() {
	fmt.Fprint(os.Stdout, `用法：
  kobobooks identify [--title T] [--authors A,B] [--isbn N] [--kobo ID] [选项]

查询（至少给出一项足以构造查询的输入）：
  --title     书名
  --authors   作者，逗号分隔
  --isbn      ISBN-10/13（可带连字符）
  --kobo      站点 ID（详情页 URL 末段 slug；给出时跳过搜索直达）

选项：
  --opf       目录：为每条结果写入 <kobo-id>.opf
  --category  分类展开方式：top_level_only|hierarchy|individual_tags
  --timeout   单次请求超时秒数（默认 30）
  --debug     输出调试日志
  -h, --help  显示帮助
`)
}

func printCoverUsage() {
	fmt.Fprint(os.Stdout, `用法：
  kobobooks cover [--title T] [--authors A,B] [--isbn N] [--kobo ID] --out 路径

参数：
  --out       封面保存路径（已存在时失败，不覆盖）
  --category  分类展开方式：top_level_only|hierarchy|individual_tags
  --timeout   单次请求超时秒数（默认 30）
  --debug     输出调试日志
  -h, --help  显示帮助
`)
}
