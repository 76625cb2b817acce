package service

import (
	"context"
	"net/url"
	"strings"

	"storesync_v1/pkg/net"
)

// lookupChunk 按外部 ID 批量查询的单次上限
const lookupChunk = 50

// remoteResource 一类远端资源的路径与响应结构约定
type remoteResource struct {
	// Collection 集合路径，如 "products" / "products/123/variants"
	Collection string
	// ListKey 查询响应中的列表字段
	ListKey string
	// ItemKey 单资源响应中的对象字段
	ItemKey string
}

var (
	productResource    = remoteResource{Collection: "products", ListKey: "products", ItemKey: "product"}
	collectionResource = remoteResource{Collection: "collections", ListKey: "collections", ItemKey: "collection"}
	orderResource      = remoteResource{Collection: "orders", ListKey: "orders", ItemKey: "order"}
)

func variantResource(parentRemoteID string) remoteResource {
	return remoteResource{
		Collection: "products/" + parentRemoteID + "/variants",
		ListKey:    "variants",
		ItemKey:    "variant",
	}
}

func (r remoteResource) item(remoteID string) string {
	return r.Collection + "/" + url.PathEscape(remoteID)
}

// upsertResult 创建或更新的结果，RemoteID 为最终确认的远端 ID (可能为空)
type upsertResult struct {
	net.Result
	RemoteID string
	// Reconciled 经过外部 ID 查询修正
	Reconciled bool
}

// lookupRemote GET {collection}?external_ids=a,b 返回 外部 ID → 远端 ID
// 查询失败时返回空映射与失败结果
func lookupRemote(ctx context.Context, gw Gateway, storeID int64, res remoteResource, externalIDs []string) (map[string]string, net.Result) {
	found := make(map[string]string, len(externalIDs))
	var last net.Result
	for start := 0; start < len(externalIDs); start += lookupChunk {
		end := start + lookupChunk
		if end > len(externalIDs) {
			end = len(externalIDs)
		}
		q := url.Values{}
		q.Set("external_ids", strings.Join(externalIDs[start:end], ","))
		last = gw.Sync(ctx, storeID, net.MethodGet, res.Collection, nil, q)
		if !last.IsSuccess {
			return found, last
		}
		for _, item := range net.ExtractList(last.Body, res.ListKey) {
			ext := net.FieldString(item, "external_id")
			id := net.FieldString(item, "id")
			if ext != "" && id != "" {
				found[ext] = id
			}
		}
	}
	return found, last
}

// upsertRemote 无远端 ID 时 POST，否则 PATCH
//   - PATCH 返回 404：按外部 ID 查询，找到则 PATCH 找到的 ID，否则 POST 新建
//   - POST 返回 409：按外部 ID 查询，找到则改为 PATCH，否则保留原 409
func upsertRemote(ctx context.Context, gw Gateway, storeID int64, res remoteResource, externalID, remoteID string, payload interface{}) upsertResult {
	if remoteID == "" {
		r := gw.Sync(ctx, storeID, net.MethodPost, res.Collection, payload, nil)
		switch out := r.Outcome(res.ItemKey, "id").(type) {
		case net.Success:
			return upsertResult{Result: r, RemoteID: out.RemoteID}
		case net.Conflict:
			found, _ := lookupRemote(ctx, gw, storeID, res, []string{externalID})
			id := found[externalID]
			if id == "" {
				return upsertResult{Result: r}
			}
			return patchRemote(ctx, gw, storeID, res, id, payload, true)
		}
		return upsertResult{Result: r}
	}

	u := patchRemote(ctx, gw, storeID, res, remoteID, payload, false)
	if _, ok := u.Outcome().(net.NotFound); !ok {
		return u
	}

	found, _ := lookupRemote(ctx, gw, storeID, res, []string{externalID})
	if id := found[externalID]; id != "" && id != remoteID {
		return patchRemote(ctx, gw, storeID, res, id, payload, true)
	}
	r := gw.Sync(ctx, storeID, net.MethodPost, res.Collection, payload, nil)
	out := upsertResult{Result: r, Reconciled: true}
	if s, ok := r.Outcome(res.ItemKey, "id").(net.Success); ok {
		out.RemoteID = s.RemoteID
	}
	return out
}

func patchRemote(ctx context.Context, gw Gateway, storeID int64, res remoteResource, remoteID string, payload interface{}, reconciled bool) upsertResult {
	r := gw.Sync(ctx, storeID, net.MethodPatch, res.item(remoteID), payload, nil)
	out := upsertResult{Result: r, RemoteID: remoteID, Reconciled: reconciled}
	if s, ok := r.Outcome(res.ItemKey, "id").(net.Success); ok && s.RemoteID != "" {
		out.RemoteID = s.RemoteID
	}
	return out
}
