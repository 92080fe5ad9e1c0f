package api

import (
	"visiona-backend/internal/database"
	"visiona-backend/pkg/api"
)

func toApiPhoto(p database.Photo) api.Photo {
	return api.Photo{
		Id:          p.Id,
		Filename:    p.Filename,
		StoragePath: p.StoragePath,
		Size:        p.Size,
		ContentType: p.ContentType,
		CreatedAt:   p.CreatedAt,
	}
}

func toApiModel(m database.Model) api.Model {
	return api.Model{
		Id:          m.Id,
		Name:        m.Name,
		TriggerWord: m.TriggerWord,
		Status:      m.Status,
		Version:     m.Version,
		ErrorMsg:    m.ErrorMsg,
		Params: api.Hyperparams{
			Steps:        m.Steps,
			LearningRate: m.LearningRate,
			LoraRank:     m.LoraRank,
			Optimizer:    m.Optimizer,
			Resolution:   m.Resolution,
			BatchSize:    m.BatchSize,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toApiGeneration(g database.Generation) api.Generation {
	return api.Generation{
		Id:        g.Id,
		ModelId:   g.ModelId,
		Prompt:    g.Prompt,
		Status:    g.Status,
		ImageURL:  g.ImageURL,
		ErrorMsg:  g.ErrorMsg,
		CreatedAt: g.CreatedAt,
	}
}
