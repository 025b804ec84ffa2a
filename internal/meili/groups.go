// ABOUTME: Tool groups covering the Meilisearch REST API by area.
// ABOUTME: Table rows for plain forwarding; bespoke handlers for composite tools.

package meili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/meili-gateway/internal/tools"
)

// Group names, also used as tool categories.
const (
	GroupSystem    = "system"
	GroupIndexes   = "indexes"
	GroupDocuments = "documents"
	GroupSearch    = "search"
	GroupSettings  = "settings"
	GroupTasks     = "tasks"
	GroupKeys      = "keys"
	GroupVector    = "vector"
)

// objectSchema renders an object schema from raw property members.
func objectSchema(properties string, required ...string) string {
	req := "[]"
	if len(required) > 0 {
		req = `["` + strings.Join(required, `","`) + `"]`
	}
	return fmt.Sprintf(`{"type":"object","properties":{%s},"required":%s}`, properties, req)
}

const (
	propIndexUID   = `"indexUid":{"type":"string","description":"Unique identifier of the index"}`
	propLimit      = `"limit":{"type":"integer","minimum":0,"description":"Maximum number of results"}`
	propOffset     = `"offset":{"type":"integer","minimum":0,"description":"Number of results to skip"}`
	propDocumentID = `"documentId":{"type":"string","description":"Primary key value of the document"}`
	propTaskFilter = `"uids":{"type":"array","items":{"type":"integer"}},` +
		`"statuses":{"type":"array","items":{"type":"string","enum":["enqueued","processing","succeeded","failed","canceled"]}},` +
		`"types":{"type":"array","items":{"type":"string"}},` +
		`"indexUids":{"type":"array","items":{"type":"string"}}`
	propSearch = propIndexUID + `,` +
		`"q":{"type":"string","description":"Search query"},` +
		propLimit + `,` + propOffset + `,` +
		`"page":{"type":"integer","minimum":1},` +
		`"hitsPerPage":{"type":"integer","minimum":0},` +
		`"filter":{"description":"Filter expression (string or nested array)"},` +
		`"sort":{"type":"array","items":{"type":"string"}},` +
		`"facets":{"type":"array","items":{"type":"string"}},` +
		`"attributesToRetrieve":{"type":"array","items":{"type":"string"}},` +
		`"attributesToHighlight":{"type":"array","items":{"type":"string"}},` +
		`"attributesToCrop":{"type":"array","items":{"type":"string"}},` +
		`"cropLength":{"type":"integer","minimum":0},` +
		`"showMatchesPosition":{"type":"boolean"},` +
		`"showRankingScore":{"type":"boolean"},` +
		`"matchingStrategy":{"type":"string","enum":["last","all","frequency"]}`
)

// settingNames are the per-setting sub-routes under /indexes/{uid}/settings.
var settingNames = []string{
	"displayed-attributes", "searchable-attributes", "filterable-attributes",
	"sortable-attributes", "ranking-rules", "stop-words", "synonyms",
	"distinct-attribute", "typo-tolerance", "faceting", "pagination",
	"proximity-precision", "separator-tokens", "non-separator-tokens",
	"dictionary", "search-cutoff-ms", "localized-attributes", "facet-search",
	"prefix-search", "embedders",
}

// patchSettings are object-valued settings updated with PATCH instead of PUT.
var patchSettings = map[string]bool{
	"typo-tolerance": true,
	"faceting":       true,
	"pagination":     true,
	"embedders":      true,
}

func propSetting() string {
	return `"setting":{"type":"string","enum":["` + strings.Join(settingNames, `","`) + `"]}`
}

// GroupOptions tunes the composite tools.
type GroupOptions struct {
	Wait WaitOptions
}

// Groups returns every Meilisearch tool group.
func Groups(c *Client, opts GroupOptions) []tools.Group {
	return []tools.Group{
		systemGroup(c),
		indexesGroup(c),
		documentsGroup(c),
		searchGroup(c),
		settingsGroup(c),
		tasksGroup(c, opts.Wait),
		keysGroup(c),
		vectorGroup(c),
	}
}

func fromTable(c *Client, name string, rows []endpoint, extra ...*tools.Tool) tools.Group {
	g := tools.Group{Name: name, Category: tools.Category(name)}
	for _, row := range rows {
		g.Tools = append(g.Tools, row.tool(c))
	}
	g.Tools = append(g.Tools, extra...)
	return g
}

func systemGroup(c *Client) tools.Group {
	rows := []endpoint{
		{name: "health", description: "Check whether the Meilisearch instance is available",
			method: http.MethodGet, path: "/health", schema: objectSchema("")},
		{name: "version", description: "Get the Meilisearch version",
			method: http.MethodGet, path: "/version", schema: objectSchema("")},
		{name: "stats", description: "Get database size and per-index document statistics",
			method: http.MethodGet, path: "/stats", schema: objectSchema("")},
		{name: "index-stats", description: "Get document and field statistics for one index",
			method: http.MethodGet, path: "/indexes/{indexUid}/stats",
			schema: objectSchema(propIndexUID, "indexUid")},
	}
	info := &tools.Tool{
		Name:        "info",
		Description: "Get version, health, and global statistics in one call",
		InputSchema: json.RawMessage(objectSchema("")),
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			out := make(map[string]json.RawMessage, 3)
			for key, path := range map[string]string{"version": "/version", "health": "/health", "stats": "/stats"} {
				raw, err := c.Get(ctx, path, nil)
				if err != nil {
					return nil, err
				}
				out[key] = raw
			}
			return out, nil
		},
	}
	return fromTable(c, GroupSystem, rows, info)
}

func indexesGroup(c *Client) tools.Group {
	return fromTable(c, GroupIndexes, []endpoint{
		{name: "list-indexes", description: "List all indexes",
			method: http.MethodGet, path: "/indexes", query: []string{"limit", "offset"},
			schema: objectSchema(propLimit + "," + propOffset)},
		{name: "get-index", description: "Get information about an index",
			method: http.MethodGet, path: "/indexes/{indexUid}",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "create-index", description: "Create a new index",
			method: http.MethodPost, path: "/indexes", body: bodyRest,
			schema: objectSchema(`"uid":{"type":"string"},"primaryKey":{"type":"string"}`, "uid")},
		{name: "update-index", description: "Update the primary key of an index",
			method: http.MethodPatch, path: "/indexes/{indexUid}", body: bodyRest,
			schema: objectSchema(propIndexUID+`,"primaryKey":{"type":"string"}`, "indexUid", "primaryKey")},
		{name: "delete-index", description: "Delete an index",
			method: http.MethodDelete, path: "/indexes/{indexUid}",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "swap-indexes", description: "Atomically swap pairs of indexes",
			method: http.MethodPost, path: "/swap-indexes", body: "swaps",
			schema: objectSchema(`"swaps":{"type":"array","items":{"type":"object","properties":{"indexes":{"type":"array","items":{"type":"string"},"minItems":2,"maxItems":2}},"required":["indexes"]}}`, "swaps")},
	})
}

func documentsGroup(c *Client) tools.Group {
	documents := `"documents":{"type":"array","items":{"type":"object"},"description":"Documents to write"},` +
		`"primaryKey":{"type":"string"}`
	return fromTable(c, GroupDocuments, []endpoint{
		{name: "get-documents", description: "Browse documents in an index",
			method: http.MethodGet, path: "/indexes/{indexUid}/documents",
			query:  []string{"limit", "offset", "fields", "filter"},
			schema: objectSchema(propIndexUID+","+propLimit+","+propOffset+`,"fields":{"type":"array","items":{"type":"string"}},"filter":{"type":"string"}`, "indexUid")},
		{name: "get-document", description: "Get one document by primary key",
			method: http.MethodGet, path: "/indexes/{indexUid}/documents/{documentId}",
			query:  []string{"fields"},
			schema: objectSchema(propIndexUID+","+propDocumentID+`,"fields":{"type":"array","items":{"type":"string"}}`, "indexUid", "documentId")},
		{name: "add-documents", description: "Add or replace documents",
			method: http.MethodPost, path: "/indexes/{indexUid}/documents",
			query: []string{"primaryKey"}, body: "documents",
			schema: objectSchema(propIndexUID+","+documents, "indexUid", "documents")},
		{name: "update-documents", description: "Add or partially update documents",
			method: http.MethodPut, path: "/indexes/{indexUid}/documents",
			query: []string{"primaryKey"}, body: "documents",
			schema: objectSchema(propIndexUID+","+documents, "indexUid", "documents")},
		{name: "delete-document", description: "Delete one document by primary key",
			method: http.MethodDelete, path: "/indexes/{indexUid}/documents/{documentId}",
			schema: objectSchema(propIndexUID+","+propDocumentID, "indexUid", "documentId")},
		{name: "delete-documents", description: "Delete documents by primary key",
			method: http.MethodPost, path: "/indexes/{indexUid}/documents/delete-batch", body: "ids",
			schema: objectSchema(propIndexUID+`,"ids":{"type":"array","items":{"type":["string","integer"]}}`, "indexUid", "ids")},
		{name: "delete-documents-by-filter", description: "Delete every document matching a filter",
			method: http.MethodPost, path: "/indexes/{indexUid}/documents/delete", body: bodyRest,
			schema: objectSchema(propIndexUID+`,"filter":{"description":"Filter expression"}`, "indexUid", "filter")},
		{name: "delete-all-documents", description: "Delete every document in an index",
			method: http.MethodDelete, path: "/indexes/{indexUid}/documents",
			schema: objectSchema(propIndexUID, "indexUid")},
	})
}

func searchGroup(c *Client) tools.Group {
	return fromTable(c, GroupSearch, []endpoint{
		{name: "search", description: "Search for documents in an index",
			method: http.MethodPost, path: "/indexes/{indexUid}/search", body: bodyRest,
			schema: objectSchema(propSearch, "indexUid", "q")},
		{name: "multi-search", description: "Run several search queries in one request, optionally federated",
			method: http.MethodPost, path: "/multi-search", body: bodyRest,
			schema: objectSchema(`"queries":{"type":"array","items":{"type":"object"}},"federation":{"type":"object"}`, "queries")},
		{name: "facet-search", description: "Search for values of a facet",
			method: http.MethodPost, path: "/indexes/{indexUid}/facet-search", body: bodyRest,
			schema: objectSchema(propIndexUID+`,"facetName":{"type":"string"},"facetQuery":{"type":"string"},"q":{"type":"string"},"filter":{}`, "indexUid", "facetName")},
		{name: "similar-documents", description: "Find documents similar to a given document",
			method: http.MethodPost, path: "/indexes/{indexUid}/similar", body: bodyRest,
			schema: objectSchema(propIndexUID+`,"id":{"type":["string","integer"]},"embedder":{"type":"string"},`+propLimit+","+propOffset+`,"filter":{}`, "indexUid", "id")},
	})
}

func settingsGroup(c *Client) tools.Group {
	update := &tools.Tool{
		Name:        "update-setting",
		Description: "Update one index setting",
		InputSchema: json.RawMessage(objectSchema(propIndexUID+","+propSetting()+`,"value":{"description":"New value for the setting"}`, "indexUid", "setting", "value")),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				IndexUID string          `json:"indexUid"`
				Setting  string          `json:"setting"`
				Value    json.RawMessage `json:"value"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
			method := http.MethodPut
			if patchSettings[args.Setting] {
				method = http.MethodPatch
			}
			path := "/indexes/" + url.PathEscape(args.IndexUID) + "/settings/" + args.Setting
			return c.Do(ctx, method, path, nil, args.Value)
		},
	}
	return fromTable(c, GroupSettings, []endpoint{
		{name: "get-settings", description: "Get all settings of an index",
			method: http.MethodGet, path: "/indexes/{indexUid}/settings",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "update-settings", description: "Update several settings of an index at once",
			method: http.MethodPatch, path: "/indexes/{indexUid}/settings", body: "settings",
			schema: objectSchema(propIndexUID+`,"settings":{"type":"object"}`, "indexUid", "settings")},
		{name: "reset-settings", description: "Reset all settings of an index to defaults",
			method: http.MethodDelete, path: "/indexes/{indexUid}/settings",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "get-setting", description: "Get one index setting",
			method: http.MethodGet, path: "/indexes/{indexUid}/settings/{setting}",
			schema: objectSchema(propIndexUID+","+propSetting(), "indexUid", "setting")},
		{name: "reset-setting", description: "Reset one index setting to its default",
			method: http.MethodDelete, path: "/indexes/{indexUid}/settings/{setting}",
			schema: objectSchema(propIndexUID+","+propSetting(), "indexUid", "setting")},
	}, update)
}

func tasksGroup(c *Client, wait WaitOptions) tools.Group {
	waitTool := &tools.Tool{
		Name:        "wait-for-task",
		Description: "Wait for an asynchronous task to finish and return its final state",
		InputSchema: json.RawMessage(objectSchema(`"taskUid":{"type":"integer","minimum":0},` +
			`"timeoutMs":{"type":"integer","minimum":1},"intervalMs":{"type":"integer","minimum":1}`, "taskUid")),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				TaskUID    int64 `json:"taskUid"`
				TimeoutMs  int64 `json:"timeoutMs"`
				IntervalMs int64 `json:"intervalMs"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
			opts := wait
			if args.TimeoutMs > 0 {
				opts.Timeout = msDuration(args.TimeoutMs)
			}
			if args.IntervalMs > 0 {
				opts.Interval = msDuration(args.IntervalMs)
			}
			return c.WaitForTask(ctx, args.TaskUID, opts)
		},
	}
	taskFilter := []string{"uids", "statuses", "types", "indexUids"}
	return fromTable(c, GroupTasks, []endpoint{
		{name: "list-tasks", description: "List tasks, newest first",
			method: http.MethodGet, path: "/tasks",
			query:  append([]string{"limit", "from"}, taskFilter...),
			schema: objectSchema(propLimit + `,"from":{"type":"integer","minimum":0},` + propTaskFilter)},
		{name: "get-task", description: "Get one task",
			method: http.MethodGet, path: "/tasks/{taskUid}",
			schema: objectSchema(`"taskUid":{"type":"integer","minimum":0}`, "taskUid")},
		{name: "cancel-tasks", description: "Cancel enqueued or processing tasks matching a filter",
			method: http.MethodPost, path: "/tasks/cancel", query: taskFilter,
			schema: objectSchema(propTaskFilter)},
		{name: "delete-tasks", description: "Delete finished tasks matching a filter",
			method: http.MethodDelete, path: "/tasks", query: taskFilter,
			schema: objectSchema(propTaskFilter)},
	}, waitTool)
}

func keysGroup(c *Client) tools.Group {
	keyProps := `"name":{"type":"string"},"description":{"type":"string"},` +
		`"actions":{"type":"array","items":{"type":"string"}},` +
		`"indexes":{"type":"array","items":{"type":"string"}},` +
		`"expiresAt":{"type":["string","null"]}`
	propKey := `"key":{"type":"string","description":"Key value or uid"}`
	return fromTable(c, GroupKeys, []endpoint{
		{name: "list-keys", description: "List API keys",
			method: http.MethodGet, path: "/keys", query: []string{"limit", "offset"},
			schema: objectSchema(propLimit + "," + propOffset)},
		{name: "get-key", description: "Get one API key",
			method: http.MethodGet, path: "/keys/{key}",
			schema: objectSchema(propKey, "key")},
		{name: "create-key", description: "Create an API key",
			method: http.MethodPost, path: "/keys", body: bodyRest,
			schema: objectSchema(keyProps, "actions", "indexes")},
		{name: "update-key", description: "Update the name or description of an API key",
			method: http.MethodPatch, path: "/keys/{key}", body: bodyRest,
			schema: objectSchema(propKey+`,"name":{"type":"string"},"description":{"type":"string"}`, "key")},
		{name: "delete-key", description: "Delete an API key",
			method: http.MethodDelete, path: "/keys/{key}",
			schema: objectSchema(propKey, "key")},
	})
}

func vectorGroup(c *Client) tools.Group {
	return fromTable(c, GroupVector, []endpoint{
		{name: "get-experimental-features", description: "Get experimental feature flags",
			method: http.MethodGet, path: "/experimental-features", schema: objectSchema("")},
		{name: "update-experimental-features", description: "Enable or disable experimental features",
			method: http.MethodPatch, path: "/experimental-features", body: bodyRest,
			schema: objectSchema(`"vectorStore":{"type":"boolean"},"metrics":{"type":"boolean"},"logsRoute":{"type":"boolean"},"containsFilter":{"type":"boolean"}`)},
		{name: "get-embedders", description: "Get the embedders configured on an index",
			method: http.MethodGet, path: "/indexes/{indexUid}/settings/embedders",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "update-embedders", description: "Configure embedders on an index",
			method: http.MethodPatch, path: "/indexes/{indexUid}/settings/embedders", body: "embedders",
			schema: objectSchema(propIndexUID+`,"embedders":{"type":"object"}`, "indexUid", "embedders")},
		{name: "reset-embedders", description: "Remove all embedders from an index",
			method: http.MethodDelete, path: "/indexes/{indexUid}/settings/embedders",
			schema: objectSchema(propIndexUID, "indexUid")},
		{name: "vector-search", description: "Semantic or hybrid search with a vector or embedder",
			method: http.MethodPost, path: "/indexes/{indexUid}/search", body: bodyRest,
			schema: objectSchema(propIndexUID+`,"q":{"type":"string"},"vector":{"type":"array","items":{"type":"number"}},`+
				`"hybrid":{"type":"object","properties":{"embedder":{"type":"string"},"semanticRatio":{"type":"number","minimum":0,"maximum":1}}},`+
				propLimit+`,"filter":{},"retrieveVectors":{"type":"boolean"}`, "indexUid")},
	})
}
