package convert

import (
	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/docpipe"
)

// auto lists the strategies tried, in order, when method is auto.
var auto = map[docpipe.Kind][]Strategy{
	docpipe.KindOfficeDoc: {StrategyOffice, StrategyLibreOffice},
	docpipe.KindText:      {StrategyLibreOffice, StrategyReportLab},
	docpipe.KindMarkup:    {StrategyLibreOffice, StrategyBrowser, StrategyReportLab},
	docpipe.KindImage:     {StrategyImage},
}

// Select returns the ordered strategies for item under method. The result is
// empty for unsupported kinds, containers and already-pdf inputs, and when a
// forced method cannot handle the item; it never falls back silently.
// Images always take the direct image path.
func Select(item docpipe.WorkItem, method string) []Strategy {
	chain, ok := auto[item.Kind]
	if !ok {
		return nil
	}
	if item.Kind == docpipe.KindImage || method == "" || method == config.MethodAuto {
		return append([]Strategy(nil), chain...)
	}
	forced := Strategy(method)
	if CanHandle(forced, item) {
		return []Strategy{forced}
	}
	return nil
}

// CanHandle reports whether strategy s accepts item.
func CanHandle(s Strategy, item docpipe.WorkItem) bool {
	switch s {
	case StrategyOffice:
		return item.Kind == docpipe.KindOfficeDoc
	case StrategyLibreOffice:
		return item.Kind == docpipe.KindOfficeDoc || item.Kind == docpipe.KindText || item.Kind == docpipe.KindMarkup
	case StrategyReportLab:
		switch item.Kind {
		case docpipe.KindText, docpipe.KindMarkup:
			return true
		case docpipe.KindOfficeDoc:
			return docpipe.CanExtract(item.Ext)
		}
	case StrategyBrowser:
		return item.Kind == docpipe.KindMarkup
	case StrategyImage:
		return item.Kind == docpipe.KindImage
	}
	return false
}
