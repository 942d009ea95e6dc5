package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mucstudio/let-monitor/pkg/models"
)

// BuildTargetKeyboard creates the inline keyboard shown under a target
func BuildTargetKeyboard(target *appmodels.Target) *models.InlineKeyboardMarkup {
	toggle := models.InlineKeyboardButton{
		Text: "⏸ Pause",
		CallbackData: EncodeCallback(appmodels.CallbackData{
			Action:   appmodels.CallbackPause,
			TargetID: target.ID,
		}),
	}
	if !target.Enabled {
		toggle = models.InlineKeyboardButton{
			Text: "▶️ Resume",
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:   appmodels.CallbackResume,
				TargetID: target.ID,
			}),
		}
	}

	row := []models.InlineKeyboardButton{toggle}
	if target.Enabled {
		row = append(row, models.InlineKeyboardButton{
			Text: "🔄 Check now",
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:   appmodels.CallbackPoll,
				TargetID: target.ID,
			}),
		})
	}
	row = append(row, models.InlineKeyboardButton{
		Text: "🗑 Remove",
		CallbackData: EncodeCallback(appmodels.CallbackData{
			Action:   appmodels.CallbackRemove,
			TargetID: target.ID,
		}),
	})

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
