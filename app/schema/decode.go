package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrUndecodable 消息不符合任何已知格式
var ErrUndecodable = errors.New("无法识别的消息格式")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decoder 把消息体解析为下载请求
type Decoder interface {
	Name() string
	Decode(body []byte) (*InbMediaPayload, error)
}

// DecoderFunc 适配普通函数
type DecoderFunc struct {
	name string
	fn   func(body []byte) (*InbMediaPayload, error)
}

func (d DecoderFunc) Name() string { return d.name }

func (d DecoderFunc) Decode(body []byte) (*InbMediaPayload, error) { return d.fn(body) }

// DefaultDecoders 按优先级排列：当前格式在前，旧版视频格式在后
func DefaultDecoders() []Decoder {
	return []Decoder{
		DecoderFunc{name: "media", fn: decodeMediaPayload},
		DecoderFunc{name: "legacy_video", fn: decodeVideoPayload},
	}
}

// DecodeInbound 依次尝试每种格式，第一个成功的为准
func DecodeInbound(body []byte, decoders ...Decoder) (*InbMediaPayload, error) {
	if len(decoders) == 0 {
		decoders = DefaultDecoders()
	}

	errs := make([]error, 0, len(decoders))
	for _, d := range decoders {
		payload, err := d.Decode(body)
		if err == nil {
			return payload, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrUndecodable, errors.Join(errs...))
}

func decodeMediaPayload(body []byte) (*InbMediaPayload, error) {
	var p InbMediaPayload
	if err := strictUnmarshal(body, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(&p); err != nil {
		return nil, err
	}
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}
	return &p, nil
}

func decodeVideoPayload(body []byte) (*InbMediaPayload, error) {
	var p VideoPayload
	if err := strictUnmarshal(body, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(&p); err != nil {
		return nil, err
	}
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}
	return p.ToMediaPayload(), nil
}

// strictUnmarshal 拒绝未知字段和多余内容
func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("消息体包含多余内容")
	}
	return nil
}

// Validate 校验出站前构造的请求，enqueue 命令使用
func (p *InbMediaPayload) Validate() error {
	return validate.Struct(p)
}
