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

package catalog

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// 目录服务走 XML-RPC：请求手工拼装，响应用流式解码还原为
// map/slice/标量。协议只用到 string/int/double/boolean/struct/array。

func encodeCall(method string, params ...any) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&b, []byte(method)); err != nil {
		return nil, err
	}
	b.WriteString("</methodName><params>")
	for _, p := range params {
		b.WriteString("<param>")
		if err := encodeValue(&b, p); err != nil {
			return nil, err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String()), nil
}

func encodeValue(b *strings.Builder, v any) error {
	b.WriteString("<value>")
	switch t := v.(type) {
	case string:
		b.WriteString("<string>")
		if err := xml.EscapeText(b, []byte(t)); err != nil {
			return err
		}
		b.WriteString("</string>")
	case int:
		fmt.Fprintf(b, "<int>%d</int>", t)
	case int64:
		fmt.Fprintf(b, "<int>%d</int>", t)
	case float64:
		fmt.Fprintf(b, "<double>%g</double>", t)
	case bool:
		if t {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case map[string]string:
		b.WriteString("<struct>")
		for k, val := range t {
			b.WriteString("<member><name>")
			if err := xml.EscapeText(b, []byte(k)); err != nil {
				return err
			}
			b.WriteString("</name>")
			if err := encodeValue(b, val); err != nil {
				return err
			}
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	case []any:
		b.WriteString("<array><data>")
		for _, item := range t {
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	case []map[string]string:
		b.WriteString("<array><data>")
		for _, item := range t {
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	default:
		return fmt.Errorf("xmlrpc: unsupported type %T", v)
	}
	b.WriteString("</value>")
	return nil
}

// decodeResponse 解析 methodResponse，返回首个 param 的值。
// fault 响应转为 error。
func decodeResponse(data []byte) (any, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	fault := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "fault":
			fault = true
		case "value":
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if fault {
				return nil, fmt.Errorf("xmlrpc fault: %v", v)
			}
			return v, nil
		}
	}
}

// decodeValue 读取 <value> 的内容直到对应的结束标签
func decodeValue(dec *xml.Decoder) (any, error) {
	var result any
	var text strings.Builder
	typed := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			typed = true
			switch t.Name.Local {
			case "struct":
				v, err := decodeStruct(dec)
				if err != nil {
					return nil, err
				}
				result = v
			case "array":
				v, err := decodeArray(dec)
				if err != nil {
					return nil, err
				}
				result = v
			case "string":
				s, err := readCharData(dec, "string")
				if err != nil {
					return nil, err
				}
				result = s
			case "int", "i4":
				s, err := readCharData(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				n, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil {
					return nil, fmt.Errorf("xmlrpc int: %w", err)
				}
				result = n
			case "double":
				s, err := readCharData(dec, "double")
				if err != nil {
					return nil, err
				}
				f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return nil, fmt.Errorf("xmlrpc double: %w", err)
				}
				result = f
			case "boolean":
				s, err := readCharData(dec, "boolean")
				if err != nil {
					return nil, err
				}
				result = strings.TrimSpace(s) == "1"
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == "value" {
				if !typed {
					// 裸文本按 string 处理
					return text.String(), nil
				}
				return result, nil
			}
		}
	}
}

func decodeStruct(dec *xml.Decoder) (map[string]any, error) {
	out := make(map[string]any)
	var name string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				s, err := readCharData(dec, "name")
				if err != nil {
					return nil, err
				}
				name = s
			case "value":
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				out[name] = v
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return out, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) ([]any, error) {
	var out []any
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return out, nil
			}
		}
	}
}

func readCharData(dec *xml.Decoder, until string) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("xmlrpc: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == until {
				return b.String(), nil
			}
		}
	}
}
