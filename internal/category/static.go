package category

import "github.com/xkilldash9x/kleinpost/api/schemas"

type group struct {
	name     string
	children []string
}

// staticTree is served when no live source answers. Nodes carry slug IDs
// and no URLs.
var staticTree = []struct {
	name   string
	groups []group
}{
	{"Auto, Rad & Boot", []group{
		{"Autos", []string{"Gebrauchtwagen", "Oldtimer", "Youngtimer", "Zubehör", "Weitere Autos"}},
		{"Autoteile & Reifen", []string{"Auto Hifi & Navigation", "Ersatz- & Reparaturteile", "Reifen & Felgen", "Tuning & Styling", "Werkzeug", "Weitere Autoteile"}},
		{"Boote & Bootszubehör", []string{"Boote", "Motoren", "Zubehör", "Trailer", "Weitere Boote"}},
		{"Fahrräder & Zubehör", []string{"Fahrräder", "E-Bikes", "Fahrradteile", "Zubehör", "Weitere Fahrräder"}},
		{"Motorräder & Motorroller", []string{"Motorräder", "Roller", "Quads", "Cross/Enduro", "Weitere Motorräder"}},
		{"Motorradteile & Zubehör", []string{"Ersatzteile", "Bekleidung", "Helme", "Zubehör", "Weitere Motorradteile"}},
		{"Nutzfahrzeuge & Anhänger", []string{"Transporter", "Anhänger", "Traktoren", "Baumaschinen", "Weitere Nutzfahrzeuge"}},
		{"Reparaturen & Dienstleistungen", []string{"Werkstätten", "Gutachten", "Pflege & Aufbereitung", "Transport", "Weitere Services"}},
		{"Wohnwagen & -mobile", []string{"Wohnwagen", "Wohnmobile", "Zubehör", "Stellplätze", "Weitere Wohnwagen"}},
		{"Weiteres Auto, Rad & Boot", []string{"Sammlerfahrzeuge", "Sonstiges", "Weitere Angebote"}},
	}},
	{"Immobilien", []group{
		{"Eigentumswohnungen", []string{"Neubau", "Bestand", "Kapitalanlage", "Penthouse", "Weitere Eigentumswohnungen"}},
		{"Häuser zum Kauf", []string{"Einfamilienhaus", "Mehrfamilienhaus", "Reihenhaus", "Bungalow", "Weitere Häuser"}},
		{"Mietwohnungen", []string{"1 Zimmer", "2 Zimmer", "3 Zimmer", "4+ Zimmer", "Weitere Mietwohnungen"}},
		{"Häuser zur Miete", []string{"Einfamilienhaus", "Reihenhaus", "Doppelhaushälfte", "Bungalow", "Weitere Miet-Häuser"}},
		{"Ferienwohnungen", []string{"Inland", "Ausland", "Apartment", "Ferienhaus", "Weitere Ferienwohnungen"}},
		{"Gewerbeimmobilien", []string{"Büro", "Laden", "Halle/Lager", "Gastronomie", "Weitere Gewerbeimmobilien"}},
		{"Grundstücke", []string{"Baugrundstücke", "Landwirtschaft", "Gewerbe", "Freizeit", "Weitere Grundstücke"}},
		{"Immobilienservice", []string{"Makler", "Hausverwaltung", "Finanzierung", "Bewertung", "Weitere Services"}},
	}},
	{"Haus & Garten", []group{
		{"Möbel & Wohnen", []string{"Schlafzimmer", "Wohnzimmer", "Esszimmer", "Büro", "Weitere Möbel"}},
		{"Haushalt", []string{"Küchenzubehör", "Reinigung", "Wäsche", "Bad", "Weitere Haushalt"}},
		{"Garten & Pflanzen", []string{"Gartenmöbel", "Pflanzen", "Teich", "Gartenwerkzeuge", "Weitere Garten"}},
		{"Heimwerken", []string{"Baumaterial", "Werkzeug", "Maschinen", "Sanitär", "Weitere Heimwerken"}},
		{"Dekoration", []string{"Bilder & Rahmen", "Kerzen & Lampen", "Textilien", "Vasen", "Weitere Deko"}},
		{"Küchen", []string{"Einbauküchen", "Küchengeräte", "Spülen", "Arbeitsplatten", "Weitere Küchen"}},
		{"Lampen & Licht", []string{"Deckenlampen", "Stehlampen", "Tischlampen", "Außenleuchten", "Weitere Lampen"}},
		{"Weitere Haus & Garten", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Mode & Beauty", []group{
		{"Damenbekleidung", []string{"Kleider", "Jacken", "Hosen", "Pullover", "Weitere Damenmode"}},
		{"Herrenbekleidung", []string{"Jacken", "Hosen", "Hemden", "Anzüge", "Weitere Herrenmode"}},
		{"Schuhe", []string{"Damenschuhe", "Herrenschuhe", "Kinderschuhe", "Sportschuhe", "Weitere Schuhe"}},
		{"Taschen & Accessoires", []string{"Handtaschen", "Rucksäcke", "Geldbörsen", "Gürtel", "Weitere Accessoires"}},
		{"Schmuck", []string{"Ketten", "Ringe", "Ohrringe", "Armbänder", "Weiterer Schmuck"}},
		{"Beauty & Pflege", []string{"Kosmetik", "Parfum", "Haarpflege", "Nagelpflege", "Weitere Beauty"}},
		{"Uhren", []string{"Damenuhren", "Herrenuhren", "Smartwatches", "Vintage", "Weitere Uhren"}},
		{"Weitere Mode & Beauty", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Elektronik", []group{
		{"Handy & Telefon", []string{"Smartphones", "Handys ohne Vertrag", "Festnetz", "Zubehör", "Weitere Telefone"}},
		{"Computer & Zubehör", []string{"Laptops", "PCs", "Monitore", "Drucker", "Weiteres Computerzubehör"}},
		{"TV & Audio", []string{"Fernseher", "Hi-Fi", "Lautsprecher", "Receiver", "Weitere TV & Audio"}},
		{"Foto", []string{"Kameras", "Objektive", "Zubehör", "Drohnen", "Weitere Foto"}},
		{"Haushaltsgeräte", []string{"Kühlschrank", "Waschmaschine", "Spülmaschine", "Kleingeräte", "Weitere Geräte"}},
		{"Konsolen", []string{"PlayStation", "Xbox", "Nintendo", "Zubehör", "Weitere Konsolen"}},
		{"Musik & DJ-Equipment", []string{"Instrumente", "DJ-Controller", "Studio", "PA", "Weitere Musik"}},
		{"Weitere Elektronik", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Haustiere", []group{
		{"Hunde", []string{"Welpen", "Zubehör", "Pflege", "Training", "Weitere Hunde"}},
		{"Katzen", []string{"Katzenzubehör", "Pflege", "Katzenmöbel", "Futter", "Weitere Katzen"}},
		{"Kleintiere", []string{"Kaninchen", "Meerschweinchen", "Hamster", "Zubehör", "Weitere Kleintiere"}},
		{"Vögel", []string{"Papageien", "Sittiche", "Zubehör", "Futter", "Weitere Vögel"}},
		{"Fische", []string{"Aquarien", "Zubehör", "Futter", "Teichfische", "Weitere Fische"}},
		{"Reptilien", []string{"Terrarien", "Zubehör", "Futter", "Sonstige Reptilien", "Weitere Reptilien"}},
		{"Tierbedarf", []string{"Futter", "Zubehör", "Pflege", "Transport", "Weiterer Tierbedarf"}},
		{"Tierbetreuung", []string{"Gassi-Service", "Tierpension", "Sitter", "Pflege", "Weitere Betreuung"}},
	}},
	{"Familie, Kind & Baby", []group{
		{"Baby", []string{"Kleidung", "Pflege", "Möbel", "Spielzeug", "Weitere Babyartikel"}},
		{"Kinderbekleidung", []string{"Mädchen", "Jungen", "Schuhe", "Jacken", "Weitere Kinderbekleidung"}},
		{"Spielzeug", []string{"Puppen", "Bauklötze", "Lego", "Brettspiele", "Weiteres Spielzeug"}},
		{"Kinderzimmer", []string{"Betten", "Schränke", "Schreibtische", "Deko", "Weitere Kinderzimmer"}},
		{"Kinderwagen", []string{"Kinderwagen", "Buggys", "Tragen", "Zubehör", "Weitere Kinderwagen"}},
		{"Schule", []string{"Schulranzen", "Bücher", "Lernmaterial", "Taschen", "Weitere Schule"}},
		{"Weitere Familie", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Jobs", []group{
		{"Vollzeit", []string{"Büro", "Verkauf", "Handwerk", "Logistik", "Weitere Vollzeitjobs"}},
		{"Teilzeit", []string{"Büro", "Verkauf", "Pflege", "Gastro", "Weitere Teilzeitjobs"}},
		{"Minijobs", []string{"Aushilfe", "Gastro", "Lager", "Reinigung", "Weitere Minijobs"}},
		{"Ausbildung", []string{"Kaufmann", "Handwerk", "IT", "Gesundheit", "Weitere Ausbildung"}},
		{"Praktika", []string{"Schüler", "Studenten", "Marketing", "IT", "Weitere Praktika"}},
		{"Nebenjob", []string{"Home Office", "Lieferdienst", "Promotion", "Nachhilfe", "Weitere Nebenjobs"}},
		{"Home Office", []string{"Kundenservice", "Texte", "Vertrieb", "IT", "Weitere Home Office"}},
	}},
	{"Freizeit, Hobby & Nachbarschaft", []group{
		{"Sport & Fitness", []string{"Fitnessgeräte", "Teamsport", "Laufsport", "Wassersport", "Weitere Sportartikel"}},
		{"Camping & Outdoor", []string{"Zelte", "Schlafsäcke", "Rucksäcke", "Kocher", "Weitere Outdoorartikel"}},
		{"Heimwerken & Sammeln", []string{"Sammelkarten", "Münzen", "Modelle", "Werkzeug", "Weitere Sammlungen"}},
		{"Reise & Veranstaltungen", []string{"Urlaub", "Events", "Tickets", "Gutscheine", "Weitere Reisen"}},
		{"Modellbau", []string{"Modelleisenbahn", "Flugzeuge", "Autos", "Bausätze", "Weiterer Modellbau"}},
		{"Kunst & Antiquitäten", []string{"Gemälde", "Skulpturen", "Antike Möbel", "Sammlerstücke", "Weitere Kunst"}},
		{"Weitere Freizeit", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Musik, Filme & Bücher", []group{
		{"Bücher", []string{"Romane", "Sachbücher", "Kinderbücher", "Comics", "Weitere Bücher"}},
		{"Filme", []string{"DVD", "Blu-ray", "Boxen", "Serien", "Weitere Filme"}},
		{"Musik", []string{"CD", "Vinyl", "Instrumente", "Zubehör", "Weitere Musik"}},
		{"Videospiele", []string{"PC", "PlayStation", "Xbox", "Nintendo", "Weitere Spiele"}},
		{"Zeitschriften", []string{"Magazine", "Sammlungen", "Fachzeitschriften", "Hefte", "Weitere Zeitschriften"}},
		{"Noten", []string{"Klavier", "Gitarre", "Gesang", "Orchester", "Weitere Noten"}},
	}},
	{"Eintrittskarten & Tickets", []group{
		{"Konzerte", []string{"Rock", "Pop", "Klassik", "Festivals", "Weitere Konzerte"}},
		{"Sport", []string{"Fußball", "Motorsport", "Tennis", "Eishockey", "Weitere Sporttickets"}},
		{"Theater & Musical", []string{"Theater", "Musical", "Oper", "Kabarett", "Weitere Bühnen"}},
		{"Events", []string{"Messen", "Comedy", "Show", "Gala", "Weitere Events"}},
		{"Kino", []string{"Premieren", "Gutscheine", "Serien", "Weitere Kino"}},
	}},
	{"Dienstleistungen", []group{
		{"Haus & Garten", []string{"Reinigung", "Gartenpflege", "Umzug", "Hausmeister", "Weitere Dienste Haus & Garten"}},
		{"Auto & Transport", []string{"Transport", "Umzug", "Kfz-Service", "Lieferung", "Weitere Auto & Transport"}},
		{"Handwerk", []string{"Maler", "Elektrik", "Sanitär", "Bau", "Weitere Handwerk"}},
		{"Unterricht", []string{"Nachhilfe", "Sprachen", "Musik", "IT", "Weiterer Unterricht"}},
		{"Beauty", []string{"Friseur", "Kosmetik", "Nagelstudio", "Massage", "Weitere Beauty"}},
		{"IT & Telekom", []string{"Support", "Webdesign", "Netzwerk", "Reparatur", "Weitere IT"}},
		{"Weitere Dienstleistungen", []string{"Sonstiges", "Weitere Angebote"}},
	}},
	{"Verschenken & Tauschen", []group{
		{"Verschenken", []string{"Möbel", "Elektronik", "Kleidung", "Sonstiges", "Weitere Geschenke"}},
		{"Tauschen", []string{"Tausch gegen", "Suche", "Angebote", "Sonstiges", "Weitere Tauschangebote"}},
	}},
	{"Unterricht & Kurse", []group{
		{"Nachhilfe", []string{"Mathe", "Deutsch", "Englisch", "Naturwissenschaften", "Weitere Nachhilfe"}},
		{"Sprachen", []string{"Englisch", "Deutsch", "Spanisch", "Französisch", "Weitere Sprachen"}},
		{"Musikunterricht", []string{"Klavier", "Gitarre", "Gesang", "Schlagzeug", "Weiterer Musikunterricht"}},
		{"Sport", []string{"Yoga", "Fitness", "Kampfsport", "Tanzen", "Weitere Sportkurse"}},
		{"Kunst & Gestaltung", []string{"Malen", "Fotografie", "Design", "Handwerk", "Weitere Kunstkurse"}},
		{"Beruf & Karriere", []string{"Coaching", "Bewerbung", "IT", "Marketing", "Weitere Kurse"}},
	}},
	{"Nachbarschaftshilfe", []group{
		{"Haushaltshilfe", []string{"Reinigung", "Einkauf", "Wäsche", "Kochen", "Weitere Haushaltshilfe"}},
		{"Nachhilfe", []string{"Schule", "Sprachen", "Mathe", "Sonstiges", "Weitere Nachhilfe"}},
		{"Fahrdienste", []string{"Arztfahrten", "Begleitung", "Einkauf", "Sonstige Fahrdienste", "Weitere Fahrdienste"}},
		{"Begleitung", []string{"Spaziergänge", "Behördengänge", "Arztbegleitung", "Freizeit", "Weitere Begleitung"}},
		{"Sonstige Hilfe", []string{"Reparaturen", "Aufbauhilfe", "Garten", "Sonstiges", "Weitere Hilfe"}},
	}},
}

// StaticTree returns a fresh copy of the built-in category tree.
func StaticTree() []schemas.CategoryNode {
	out := make([]schemas.CategoryNode, 0, len(staticTree))
	for _, top := range staticTree {
		node := leaf(top.name)
		for _, g := range top.groups {
			child := leaf(g.name)
			for _, name := range g.children {
				child.Children = append(child.Children, leaf(name))
			}
			node.Children = append(node.Children, child)
		}
		out = append(out, node)
	}
	return out
}

func leaf(name string) schemas.CategoryNode {
	return schemas.CategoryNode{ID: Slugify(name), Name: name}
}
