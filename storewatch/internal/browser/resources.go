package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockSet holds lowercase CDP resource types that are failed at the
// network layer.
type blockSet map[string]bool

var pluralTypes = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"stylesheets": "stylesheet",
}

func newBlockSet(types []string) blockSet {
	b := blockSet{}
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if s, ok := pluralTypes[t]; ok {
			t = s
		}
		if t != "" {
			b[t] = true
		}
	}
	return b
}

// blocks reports whether a request of the given CDP resource type is
// dropped. The document and its scripts always load: they are what write
// the storage under watch.
func (b blockSet) blocks(resourceType proto.NetworkResourceType) bool {
	t := strings.ToLower(string(resourceType))
	if t == "document" || t == "script" {
		return false
	}
	return b[t]
}

func (b blockSet) install(page *rod.Page) error {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if b.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}
	go router.Run()
	return nil
}
