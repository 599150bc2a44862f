package common

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseJSON 解析 JSON 字符串到結構體
func ParseJSON(data string, v interface{}) error {
	return decodeJSON(strings.NewReader(data), v, false)
}

func decodeJSON(r io.Reader, v interface{}, disallowUnknown bool) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if disallowUnknown {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(v); err != nil {
		return err
	}

	// 確保沒有多餘資料
	for {
		t, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if t != nil {
			return fmt.Errorf("unexpected extra JSON data")
		}
	}
}

// StripCodeFence 去掉 ```json ... ``` 包裹
func StripCodeFence(raw string) string {
	txt := strings.TrimSpace(raw)
	txt = strings.TrimPrefix(txt, "```json")
	txt = strings.TrimPrefix(txt, "```JSON")
	txt = strings.TrimPrefix(txt, "```")
	txt = strings.TrimSuffix(txt, "```")
	return strings.TrimSpace(txt)
}

// ExtractJSONPayload 從模型輸出擷取單一 JSON 內容（物件或陣列）
//
// 先去掉 code fence，再依出現順序嘗試 { 與 [：擷取起點到對應的最後一個 } 或 ]，
// 取第一個能通過 JSON 語法檢查的片段。說明文字中的方括號因此不會蓋過後面的物件。
// 都無法通過時返回最早的片段交給解析器報錯；找不到任何起點時返回空字串。
func ExtractJSONPayload(raw string) string {
	txt := StripCodeFence(raw)

	type span struct{ start, end int }
	var spans []span
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(txt, pair[0])
		if start == -1 {
			continue
		}
		end := strings.LastIndex(txt, pair[1])
		if end < start {
			continue
		}
		spans = append(spans, span{start, end})
	}
	if len(spans) == 0 {
		return ""
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for _, sp := range spans {
		if candidate := txt[sp.start : sp.end+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return txt[spans[0].start : spans[0].end+1]
}
