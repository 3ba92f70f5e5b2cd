// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package catalog 第三方字幕目录的 XML-RPC 客户端：登录会话、
// 检索候选、下载解码落盘。
package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/retry"
)

// Subtitle 目录返回的候选条目
type Subtitle struct {
	ID            string
	FileName      string
	Language      string
	Format        string
	DownloadCount int
	UploadedAt    time.Time
	MatchedByHash bool
}

// Config 客户端参数
type Config struct {
	Endpoint  string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
	Retry     retry.Policy
}

// Client 目录客户端。会话 token 归单个实例所有，不跨 worker 共享。
type Client struct {
	http   *resty.Client
	cfg    Config
	token  string
	logger *log.Logger
}

// NewClient 创建客户端；Connect 前不持有会话
func NewClient(cfg Config, logger *log.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "text/xml").
		SetHeader("User-Agent", cfg.UserAgent)
	return &Client{http: httpClient, cfg: cfg, logger: logger.Component("catalog")}
}

// call 一次 XML-RPC 往返，经重试引擎包装
func (c *Client) call(ctx context.Context, method string, params ...any) (map[string]any, error) {
	body, err := encodeCall(method, params...)
	if err != nil {
		return nil, errors.Wrap(err, "encode call")
	}
	return retry.DoValue(ctx, c.logger, "catalog."+method, c.cfg.Retry, func(ctx context.Context) (map[string]any, error) {
		resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(c.cfg.Endpoint)
		if err != nil {
			return nil, errors.Transient("catalog request", err)
		}
		if resp.StatusCode() >= 400 {
			return nil, classifyStatus(method, strconv.Itoa(resp.StatusCode()))
		}
		decoded, err := decodeResponse(resp.Body())
		if err != nil {
			return nil, errors.Permanent("catalog response", err)
		}
		result, ok := decoded.(map[string]any)
		if !ok {
			return nil, errors.Permanentf("catalog %s: unexpected response shape %T", method, decoded)
		}
		if status, ok := result["status"].(string); ok {
			if err := classifyStatus(method, status); err != nil {
				return nil, err
			}
		}
		return result, nil
	})
}

// Connect 登录并持有会话 token
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.call(ctx, "LogIn", c.cfg.Username, c.cfg.Password, "en", c.cfg.UserAgent)
	if err != nil {
		return err
	}
	token, _ := result["token"].(string)
	if token == "" {
		return errors.Permanentf("catalog LogIn: empty session token")
	}
	c.token = token
	c.logger.Info("目录会话已建立")
	return nil
}

// Disconnect 注销会话；失败只记日志
func (c *Client) Disconnect(ctx context.Context) {
	if c.token == "" {
		return
	}
	if _, err := c.call(ctx, "LogOut", c.token); err != nil {
		c.logger.Warn("目录注销失败", "error", err)
	}
	c.token = ""
}

// SearchQuery 检索条件；IMDBID 与 Query 至少给一个
type SearchQuery struct {
	IMDBID    string
	Query     string
	Languages []string
}

// Search 按 IMDB 编号或标题检索候选
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Subtitle, error) {
	if c.token == "" {
		return nil, errors.Permanentf("catalog search: not connected")
	}
	criteria := map[string]string{"sublanguageid": strings.Join(q.Languages, ",")}
	switch {
	case q.IMDBID != "":
		criteria["imdbid"] = q.IMDBID
	case q.Query != "":
		criteria["query"] = q.Query
	default:
		return nil, errors.Wrapf(errors.ErrInvalidArg, "search needs imdb id or query")
	}
	return c.search(ctx, criteria)
}

// SearchByHash 按文件哈希+大小检索；命中即为精确匹配
func (c *Client) SearchByHash(ctx context.Context, hash string, fileSize int64, languages []string) ([]Subtitle, error) {
	if c.token == "" {
		return nil, errors.Permanentf("catalog search: not connected")
	}
	criteria := map[string]string{
		"moviehash":     hash,
		"moviebytesize": strconv.FormatInt(fileSize, 10),
		"sublanguageid": strings.Join(languages, ","),
	}
	return c.search(ctx, criteria)
}

func (c *Client) search(ctx context.Context, criteria map[string]string) ([]Subtitle, error) {
	result, err := c.call(ctx, "SearchSubtitles", c.token, []map[string]string{criteria})
	if err != nil {
		return nil, err
	}
	rows, _ := result["data"].([]any)
	subs := make([]Subtitle, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.(map[string]any)
		if !ok {
			continue
		}
		subs = append(subs, parseSubtitle(fields))
	}
	c.logger.Debug("目录检索完成", "criteria", criteria, "candidates", len(subs))
	return subs, nil
}

func parseSubtitle(fields map[string]any) Subtitle {
	sub := Subtitle{
		ID:       str(fields["IDSubtitleFile"]),
		FileName: str(fields["SubFileName"]),
		Language: str(fields["ISO639"]),
		Format:   str(fields["SubFormat"]),
	}
	if sub.Language == "" {
		sub.Language = str(fields["SubLanguageID"])
	}
	if n, err := strconv.Atoi(str(fields["SubDownloadsCnt"])); err == nil {
		sub.DownloadCount = n
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", str(fields["SubAddDate"])); err == nil {
		sub.UploadedAt = ts
	}
	sub.MatchedByHash = str(fields["MatchedBy"]) == "moviehash"
	return sub
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Download 下载指定字幕：base64 解码、gzip 解压、建目录落盘，
// 返回最终路径
func (c *Client) Download(ctx context.Context, subtitleID, outputPath string) (string, error) {
	if c.token == "" {
		return "", errors.Permanentf("catalog download: not connected")
	}
	result, err := c.call(ctx, "DownloadSubtitles", c.token, []any{subtitleID})
	if err != nil {
		return "", err
	}
	rows, _ := result["data"].([]any)
	if len(rows) == 0 {
		return "", errors.Permanentf("catalog download: no payload for subtitle %s", subtitleID)
	}
	fields, _ := rows[0].(map[string]any)
	encoded := str(fields["data"])
	if encoded == "" {
		return "", errors.Permanentf("catalog download: empty payload for subtitle %s", subtitleID)
	}
	content, err := decodePayload(encoded)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return "", errors.Wrap(err, "write subtitle")
	}
	c.logger.Info("字幕已下载", "subtitle_id", subtitleID, "path", outputPath, "bytes", len(content))
	return outputPath, nil
}

// decodePayload base64 → gzip → 明文
func decodePayload(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Permanent("decode base64", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Permanent("open gzip", err)
	}
	defer zr.Close()
	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Permanent("decompress", err)
	}
	return content, nil
}
