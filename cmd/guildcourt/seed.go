package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"guildcourt/bounty"
	"guildcourt/guild"
	"guildcourt/milestone"
)

// seedFile describes guilds, balances, bounties and projects to create
// before disputes can be opened against them. Guilds are referenced by name.
type seedFile struct {
	Guilds   []seedGuild   `yaml:"guilds"`
	Mints    []seedMint    `yaml:"mints"`
	Bounties []seedBounty  `yaml:"bounties"`
	Projects []seedProject `yaml:"projects"`
}

type seedGuild struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Owner       string       `yaml:"owner"`
	Members     []seedMember `yaml:"members"`
}

type seedMember struct {
	Address string     `yaml:"address"`
	Role    guild.Role `yaml:"role"`
}

type seedMint struct {
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
	Amount  int64  `yaml:"amount"`
}

type seedBounty struct {
	Guild       string        `yaml:"guild"`
	Creator     string        `yaml:"creator"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Token       string        `yaml:"token"`
	Reward      int64         `yaml:"reward"`
	ExpiresIn   time.Duration `yaml:"expires_in"`
	// FundedBy, when set, funds the full reward from that address.
	FundedBy string `yaml:"funded_by"`
}

type seedProject struct {
	Guild       string          `yaml:"guild"`
	Creator     string          `yaml:"creator"`
	Contributor string          `yaml:"contributor"`
	TreasuryID  uint64          `yaml:"treasury_id"`
	Token       string          `yaml:"token"`
	FundedBy    string          `yaml:"funded_by"`
	Milestones  []seedMilestone `yaml:"milestones"`
}

type seedMilestone struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Amount      int64         `yaml:"amount"`
	DueIn       time.Duration `yaml:"due_in"`
}

// seedReport lists the ids assigned to seeded records.
type seedReport struct {
	Guilds   map[string]uint64 `json:"guilds"`
	Bounties []uint64          `json:"bounties"`
	Projects []seededProject   `json:"projects"`
}

type seededProject struct {
	ID         uint64   `json:"id"`
	Milestones []uint64 `json:"milestones"`
}

func loadSeedFile(path string) (seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("read seed file: %w", err)
	}
	var s seedFile
	if err := yaml.Unmarshal(data, &s); err != nil {
		return seedFile{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return s, nil
}

// seed applies s through the domain services in file order: guilds, mints,
// bounties, then projects. Records created before a failure are kept.
func (a *app) seed(ctx context.Context, s seedFile) (seedReport, error) {
	report := seedReport{Guilds: make(map[string]uint64, len(s.Guilds))}
	now := time.Now().UTC()

	for _, g := range s.Guilds {
		id, err := a.guilds.Create(ctx, g.Name, g.Description, g.Owner)
		if err != nil {
			return report, fmt.Errorf("seed guild %q: %w", g.Name, err)
		}
		report.Guilds[g.Name] = id
		for _, m := range g.Members {
			if err := a.guilds.AddMember(ctx, id, m.Address, m.Role, g.Owner); err != nil {
				return report, fmt.Errorf("seed guild %q member %s: %w", g.Name, m.Address, err)
			}
		}
		a.logger.InfoContext(ctx, "seeded guild", "guild_id", id, "name", g.Name, "members", len(g.Members)+1)
	}

	for _, m := range s.Mints {
		if err := a.escrow.Mint(ctx, m.Token, m.Account, m.Amount); err != nil {
			return report, fmt.Errorf("seed mint %s to %s: %w", m.Token, m.Account, err)
		}
	}

	for _, b := range s.Bounties {
		guildID, ok := report.Guilds[b.Guild]
		if !ok {
			return report, fmt.Errorf("seed bounty %q: unknown guild %q", b.Title, b.Guild)
		}
		id, err := a.bounties.Create(ctx, bounty.CreateParams{
			GuildID:      guildID,
			Creator:      b.Creator,
			Title:        b.Title,
			Description:  b.Description,
			Token:        b.Token,
			RewardAmount: b.Reward,
			ExpiresAt:    now.Add(b.ExpiresIn),
		})
		if err != nil {
			return report, fmt.Errorf("seed bounty %q: %w", b.Title, err)
		}
		if b.FundedBy != "" {
			if err := a.bounties.Fund(ctx, id, b.FundedBy, b.Reward); err != nil {
				return report, fmt.Errorf("fund bounty %d: %w", id, err)
			}
		}
		report.Bounties = append(report.Bounties, id)
		a.logger.InfoContext(ctx, "seeded bounty", "bounty_id", id, "funded", b.FundedBy != "")
	}

	for _, p := range s.Projects {
		guildID, ok := report.Guilds[p.Guild]
		if !ok {
			return report, fmt.Errorf("seed project: unknown guild %q", p.Guild)
		}
		inputs := make([]milestone.Input, 0, len(p.Milestones))
		var total int64
		for _, m := range p.Milestones {
			total += m.Amount
			inputs = append(inputs, milestone.Input{
				Title:       m.Title,
				Description: m.Description,
				Amount:      m.Amount,
				Deadline:    now.Add(m.DueIn),
			})
		}
		if p.FundedBy != "" {
			if err := a.escrow.FundTreasury(ctx, p.Token, p.FundedBy, p.TreasuryID, total); err != nil {
				return report, fmt.Errorf("fund treasury %d: %w", p.TreasuryID, err)
			}
		}
		id, ids, err := a.milestones.CreateProject(ctx, milestone.CreateProjectParams{
			GuildID:     guildID,
			Creator:     p.Creator,
			Contributor: p.Contributor,
			TreasuryID:  p.TreasuryID,
			Token:       p.Token,
			Milestones:  inputs,
		})
		if err != nil {
			return report, fmt.Errorf("seed project: %w", err)
		}
		report.Projects = append(report.Projects, seededProject{ID: id, Milestones: ids})
		a.logger.InfoContext(ctx, "seeded project", "project_id", id, "milestones", len(ids))
	}
	return report, nil
}
