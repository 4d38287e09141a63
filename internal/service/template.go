package service

import (
	"context"
	"html/template"
	"strings"
)

// TemplateFuncs возвращает функции шаблонов, создающие гостевые ссылки:
//
//	{{ guest_url "/reports/42/" }}
//	{{ guest_url "/reports/42/" "1, 2014-07-12" }}
//	{{ guest_url "/reports/42/" "1" "2014-07-12" }}
//
// Несколько аргументов спецификатора склеиваются через запятую.
func TemplateFuncs(ctx context.Context, svc GuestLinkService) template.FuncMap {
	return template.FuncMap{
		"guest_url": func(sourcePath string, spec ...string) (string, error) {
			return svc.GuestURL(ctx, sourcePath, strings.Join(spec, ","))
		},
	}
}
