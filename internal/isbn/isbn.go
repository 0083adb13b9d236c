// Package isbn 校验并规范化 ISBN（10 位与 13 位）。
//
// 约束：要么得到校验通过的规范形态（去掉连字符/空白），要么判定无效；
// 不做 10 位 <-> 13 位的转换（查询直接使用调用方给出的形态）。
package isbn

import "strings"

// Check 校验 s 是否为合法 ISBN，并返回规范化（仅数字/末位 X）后的值。
func Check(s string) (string, bool) {
	clean := normalize(s)
	switch len(clean) {
	case 10:
		if validISBN10(clean) {
			return clean, true
		}
	case 13:
		if validISBN13(clean) {
			return clean, true
		}
	}
	return "", false
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
			// 分隔符：忽略
		default:
			return ""
		}
	}
	return b.String()
}

func validISBN10(s string) bool {
	sum := 0
	for i, r := range s {
		v := 0
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r == 'X' && i == 9:
			// 'X' 只允许出现在校验位。
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		v := int(r - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
