package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_evt00000001",
			"name": "events",
			"type": "base",
			"system": false,
			"listRule": "",
			"viewRule": "",
			"createRule": null,
			"updateRule": null,
			"deleteRule": null,
			"fields": [
				{
					"id": "text_evt_title",
					"name": "title",
					"type": "text",
					"required": true,
					"presentable": true,
					"system": false,
					"min": 0,
					"max": 255,
					"pattern": ""
				},
				{
					"id": "number_evt_cap",
					"name": "total_capacity",
					"type": "number",
					"required": true,
					"system": false,
					"min": 0,
					"max": null,
					"onlyInt": true
				},
				{
					"id": "select_evt_status",
					"name": "status",
					"type": "select",
					"required": true,
					"system": false,
					"maxSelect": 1,
					"values": ["draft", "publish", "ended"]
				},
				{
					"id": "autodate_evt_created",
					"name": "created",
					"type": "autodate",
					"system": false,
					"onCreate": true,
					"onUpdate": false
				},
				{
					"id": "autodate_evt_updated",
					"name": "updated",
					"type": "autodate",
					"system": false,
					"onCreate": true,
					"onUpdate": true
				}
			],
			"indexes": [
				"CREATE INDEX idx_events_status ON events (status)"
			]
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_evt00000001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
