package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_tkt00000001",
			"name": "tickets",
			"type": "base",
			"system": false,
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null,
			"fields": [
				{
					"id": "text_tkt_number",
					"name": "ticket_number",
					"type": "text",
					"required": true,
					"presentable": true,
					"system": false,
					"min": 0,
					"max": 32,
					"pattern": ""
				},
				{
					"id": "text_tkt_event",
					"name": "event_id",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 64,
					"pattern": ""
				},
				{
					"id": "text_tkt_user",
					"name": "user_id",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 64,
					"pattern": ""
				},
				{
					"id": "text_tkt_offer",
					"name": "offer_type_id",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 64,
					"pattern": ""
				},
				{
					"id": "number_tkt_qty",
					"name": "quantity",
					"type": "number",
					"required": true,
					"system": false,
					"min": 1,
					"max": null,
					"onlyInt": true
				},
				{
					"id": "text_tkt_price",
					"name": "price",
					"type": "text",
					"required": false,
					"system": false,
					"min": 0,
					"max": 32,
					"pattern": ""
				},
				{
					"id": "text_tkt_primary",
					"name": "primary_key",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 255,
					"pattern": ""
				},
				{
					"id": "text_tkt_secondary",
					"name": "secondary_key",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 64,
					"pattern": ""
				},
				{
					"id": "text_tkt_hashed",
					"name": "hashed_key",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 512,
					"pattern": ""
				},
				{
					"id": "text_tkt_sig",
					"name": "signature",
					"type": "text",
					"required": true,
					"system": false,
					"min": 0,
					"max": 128,
					"pattern": ""
				},
				{
					"id": "text_tkt_qr",
					"name": "qr_code_url",
					"type": "text",
					"required": false,
					"system": false,
					"min": 0,
					"max": 255,
					"pattern": ""
				},
				{
					"id": "bool_tkt_validated",
					"name": "validated",
					"type": "bool",
					"required": false,
					"system": false
				},
				{
					"id": "bool_tkt_used",
					"name": "used",
					"type": "bool",
					"required": false,
					"system": false
				},
				{
					"id": "date_tkt_purchase",
					"name": "purchase_date",
					"type": "date",
					"required": true,
					"system": false
				},
				{
					"id": "date_tkt_used_at",
					"name": "used_at",
					"type": "date",
					"required": false,
					"system": false
				},
				{
					"id": "autodate_tkt_created",
					"name": "created",
					"type": "autodate",
					"system": false,
					"onCreate": true,
					"onUpdate": false
				},
				{
					"id": "autodate_tkt_updated",
					"name": "updated",
					"type": "autodate",
					"system": false,
					"onCreate": true,
					"onUpdate": true
				}
			],
			"indexes": [
				"CREATE UNIQUE INDEX idx_tickets_ticket_number ON tickets (ticket_number)",
				"CREATE UNIQUE INDEX idx_tickets_primary_key ON tickets (primary_key)",
				"CREATE UNIQUE INDEX idx_tickets_hashed_key ON tickets (hashed_key)",
				"CREATE INDEX idx_tickets_used_purchase ON tickets (used, purchase_date)"
			]
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_tkt00000001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
