package qzone

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// PublishPost 发布说说，images 可为空
func (c *Client) PublishPost(ctx context.Context, text string, images []Image) (*PostResult, error) {
	var result *PostResult
	err := c.withSession(ctx, func(s *session.Session) error {
		r, err := c.publish(ctx, s, text, images)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	c.metrics.RecordAction("publish", metricsResult(err))
	if err != nil {
		if passthrough(err) {
			return nil, err
		}
		return nil, &types.PublishError{Err: err}
	}

	logger.Info("post published",
		zap.String("tid", result.TID),
		zap.Int("images", len(images)))
	return result, nil
}

func (c *Client) publish(ctx context.Context, s *session.Session, text string, images []Image) (*PostResult, error) {
	form := url.Values{}
	form.Set("syn_tweet_verson", "1")
	form.Set("paramstr", "1")
	form.Set("who", "1")
	form.Set("con", text)
	form.Set("feedversion", "1")
	form.Set("ver", "1")
	form.Set("ugc_right", "1")
	form.Set("to_sign", "0")
	form.Set("hostuin", c.botUIN)
	form.Set("code_version", "1")
	form.Set("format", "json")
	form.Set("qzreferrer", "https://user.qzone.qq.com/"+c.botUIN)

	if len(images) > 0 {
		picBos := make([]string, 0, len(images))
		richVals := make([]string, 0, len(images))
		for i, img := range images {
			picBo, richVal, err := c.uploadImage(ctx, s, img)
			if err != nil {
				return nil, fmt.Errorf("upload image %d: %w", i+1, err)
			}
			picBos = append(picBos, picBo)
			richVals = append(richVals, richVal)
		}
		form.Set("pic_bo", strings.Join(picBos, ","))
		form.Set("richtype", "1")
		form.Set("richval", strings.Join(richVals, "\t"))
	}

	data, err := c.send(ctx, s, request{
		endpoint: "publish",
		method:   http.MethodPost,
		url:      c.endpoints.Publish,
		query:    url.Values{"g_tk": {gtk(s)}, "uin": {c.botUIN}},
		form:     form,
		write:    true,
	})
	if err != nil {
		return nil, err
	}

	tid := gjson.Get(extractJSON(data), "tid").String()
	if tid == "" {
		code, _ := responseCode(data)
		return nil, fmt.Errorf("publish returned no tid (code %d: %s)", code, responseMessage(data))
	}
	return &PostResult{TID: tid}, nil
}

// uploadImage 上传一张图片，返回 pic_bo 和 richval
func (c *Client) uploadImage(ctx context.Context, s *session.Session, img Image) (string, string, error) {
	if len(img.Data) == 0 {
		return "", "", errors.New("empty image")
	}

	form := url.Values{}
	form.Set("filename", "filename")
	form.Set("zzpanelkey", "")
	form.Set("uploadtype", "1")
	form.Set("albumtype", "7")
	form.Set("exttype", "0")
	form.Set("skey", s.Get("skey"))
	form.Set("zzpaneluin", c.botUIN)
	form.Set("p_uin", c.botUIN)
	form.Set("uin", c.botUIN)
	form.Set("p_skey", s.Get("p_skey"))
	form.Set("output_type", "json")
	form.Set("qzonetoken", "")
	form.Set("refer", "shuoshuo")
	form.Set("charset", "utf-8")
	form.Set("output_charset", "utf-8")
	form.Set("upload_hd", "1")
	form.Set("hd_width", "2048")
	form.Set("hd_height", "10000")
	form.Set("hd_quality", "96")
	form.Set("backUrls", "http://upbak.photo.qzone.qq.com/cgi-bin/upload/cgi_upload_image,http://119.147.64.75/cgi-bin/upload/cgi_upload_image")
	form.Set("url", c.endpoints.Upload+"?g_tk="+gtk(s))
	form.Set("base64", "1")
	form.Set("picfile", base64.StdEncoding.EncodeToString(img.Data))

	data, err := c.send(ctx, s, request{
		endpoint: "upload_image",
		method:   http.MethodPost,
		url:      c.endpoints.Upload,
		form:     form,
		write:    true,
	})
	if err != nil {
		return "", "", err
	}
	return picBoAndRichVal(data)
}

// picBoAndRichVal 解析上传结果
func picBoAndRichVal(data []byte) (string, string, error) {
	obj := extractJSON(data)
	ret := gjson.Get(obj, "ret")
	if !ret.Exists() {
		return "", "", errors.New("upload response has no ret")
	}
	if ret.Int() != 0 {
		return "", "", fmt.Errorf("upload failed with ret %d: %s", ret.Int(), responseMessage(data))
	}

	d := gjson.Get(obj, "data")
	_, picBo, ok := strings.Cut(d.Get("url").String(), "&bo=")
	if !ok || picBo == "" {
		return "", "", errors.New("upload response url has no bo parameter")
	}

	richVal := fmt.Sprintf(",%s,%s,%s,%s,%s,%s,,%s,%s",
		d.Get("albumid").String(), d.Get("lloc").String(),
		d.Get("sloc").String(), d.Get("type").String(),
		d.Get("height").String(), d.Get("width").String(),
		d.Get("height").String(), d.Get("width").String())
	return picBo, richVal, nil
}

// metricsResult 将错误映射为指标标签
func metricsResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case types.IsAuth(err):
		return "auth"
	case types.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
